package monitor

import (
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"

	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/go-common/taskmanager"
	"github.com/clambin/go-common/taskmanager/httpserver"
	promserver "github.com/clambin/go-common/taskmanager/prometheus"
	"github.com/clambin/solar-ac-controller/internal/api"
	"github.com/clambin/solar-ac-controller/internal/bot"
	"github.com/clambin/solar-ac-controller/internal/collector"
	"github.com/clambin/solar-ac-controller/internal/configuration"
	"github.com/clambin/solar-ac-controller/internal/controller"
	"github.com/clambin/solar-ac-controller/internal/controller/notifier"
	"github.com/clambin/solar-ac-controller/internal/health"
	"github.com/clambin/solar-ac-controller/internal/homeassistant"
	"github.com/clambin/solar-ac-controller/internal/poller"
	"github.com/clambin/solar-ac-controller/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = cobra.Command{
	Use:   "monitor",
	Short: "Runs the solar A/C controller",
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := New(viper.GetViper(), cmd.Root().Version, slog.Default())
		if err != nil {
			return err
		}
		return m.Run(cmd.Context())
	},
}

func New(cfg *viper.Viper, version string, logger *slog.Logger) (*taskmanager.Manager, error) {
	config, err := loadConfiguration(cfg, filepath.Join(filepath.Dir(cfg.ConfigFileUsed()), "zones.yaml"))
	if err != nil {
		return nil, err
	}
	return taskmanager.New(makeTasks(cfg, config, version, prometheus.DefaultRegisterer, logger)...), nil
}

func loadConfiguration(cfg *viper.Viper, zonesPath string) (configuration.Configuration, error) {
	f, err := os.Open(zonesPath)
	if err != nil {
		return configuration.Configuration{}, fmt.Errorf("zones: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	return configuration.GetConfiguration(cfg, f)
}

func makeTasks(cfg *viper.Viper, config configuration.Configuration, version string, registry prometheus.Registerer, l *slog.Logger) []taskmanager.Task {
	var tasks []taskmanager.Task

	// Home Assistant client
	callMetrics := homeassistant.NewCallMetrics("solar_ac", "", prometheus.Labels{})
	registry.MustRegister(callMetrics)
	ha := homeassistant.New(cfg.GetString("homeassistant.url"), cfg.GetString("homeassistant.token"), callMetrics)

	// Poller
	p := poller.New(ha, config, cfg.GetDuration("poller.interval"), l.With("component", "poller"))
	tasks = append(tasks, p)

	// Slackbot
	var b *slackbot.SlackBot
	if token := cfg.GetString("slack.token"); token != "" {
		b = slackbot.New(
			token,
			slackbot.WithName("solar-ac-controller "+version),
			slackbot.WithLogger(l.With(slog.String("component", "slackbot"))),
		)
	}

	notifiers := notifier.Notifiers{&notifier.SLogNotifier{Logger: l.With("component", "notifier")}}
	if b != nil {
		notifiers = append(notifiers, &notifier.SlackNotifier{Slack: b})
	}

	// Controller
	s := store.New(cfg.GetString("storage.path"), config.InitialLearnedPower, l.With("component", "store"))
	c := controller.New(p, ha, s, config, notifiers, l.With("component", "controller"))
	tasks = append(tasks, c)

	// Collector
	coll := &collector.Collector{Source: c, Logger: l.With("component", "collector")}
	registry.MustRegister(coll)

	// Prometheus Server
	tasks = append(tasks, promserver.New(promserver.WithAddr(cfg.GetString("exporter.addr"))))

	// Health & REST endpoints
	r := http.NewServeMux()
	r.Handle("/health", &health.Health{Source: c, Poller: p, Logger: l.With("component", "health")})
	r.Handle("/api/v1/", api.New(c, l.With("component", "api")).Router(os.Stdout))
	tasks = append(tasks, httpserver.New(cfg.GetString("health.addr"), r))

	// Slackbot
	if b != nil {
		tasks = append(tasks,
			b,
			bot.New(b, c, p, l.With(slog.String("component", "bot"))),
		)
	}

	if pprofAddr := cfg.GetString("pprof"); pprofAddr != "" {
		tasks = append(tasks, httpserver.New(pprofAddr, http.DefaultServeMux))
	}

	return tasks
}
