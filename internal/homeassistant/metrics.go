package homeassistant

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/clambin/go-common/http/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// NewCallMetrics returns RequestMetrics for the Home Assistant client. The
// entity id is stripped from the path so the label set stays bounded.
func NewCallMetrics(namespace, subsystem string, labels prometheus.Labels) metrics.RequestMetrics {
	return metrics.NewRequestMetrics(metrics.Options{
		Namespace:   namespace,
		Subsystem:   subsystem,
		ConstLabels: labels,
		LabelValues: func(request *http.Request, statusCode int) (string, string, string) {
			path := request.URL.Path
			for _, prefix := range []string{"/api/states", "/api/services"} {
				if strings.HasPrefix(path, prefix) {
					path = prefix
					break
				}
			}
			return request.Method, path, strconv.Itoa(statusCode)
		},
	})
}
