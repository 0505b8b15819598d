// Package bot adds slack commands to inspect and steer the controller.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/solar-ac-controller/internal/controller"
	"github.com/clambin/solar-ac-controller/internal/poller"
	"github.com/slack-go/slack"
)

type SlackBot interface {
	Register(name string, command slackbot.CommandFunc)
	Run(ctx context.Context) error
	Send(channel string, attachments []slack.Attachment) error
}

// Engine is the part of the controller the bot drives.
type Engine interface {
	Snapshot() (controller.Snapshot, bool)
	ResetLearning(clearStored bool)
	ForceRelearn(zone string) error
}

type Bot struct {
	slack  SlackBot
	engine Engine
	poller poller.Poller
	logger *slog.Logger
}

func New(slackBot SlackBot, engine Engine, p poller.Poller, logger *slog.Logger) *Bot {
	b := Bot{
		slack:  slackBot,
		engine: engine,
		poller: p,
		logger: logger.With(slog.String("component", "bot")),
	}
	slackBot.Register("report", b.Report)
	slackBot.Register("zones", b.ReportZones)
	slackBot.Register("refresh", b.DoRefresh)
	slackBot.Register("reset", b.ResetLearning)
	slackBot.Register("relearn", b.ForceRelearn)

	return &b
}

// Run the bot.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Debug("started")
	defer b.logger.Debug("stopped")
	return b.slack.Run(ctx)
}

func (b *Bot) Report(_ context.Context, _ ...string) []slack.Attachment {
	snapshot, ok := b.engine.Snapshot()
	if !ok {
		return noUpdateYet()
	}

	text := []string{
		fmt.Sprintf("grid: %.0f W (fast) / %.0f W (slow)", snapshot.EMAFast, snapshot.EMASlow),
		fmt.Sprintf("confidence: %.1f", snapshot.Confidence),
		fmt.Sprintf("season: %s", snapshot.SeasonMode),
		fmt.Sprintf("last action: %s", snapshot.LastAction),
		fmt.Sprintf("samples: %d accepted, %d rejected", snapshot.Samples, snapshot.Rejected),
	}
	if snapshot.NextZone != "" {
		text = append(text, fmt.Sprintf("next zone: %s (needs %.0f W, margin %.0f W)",
			snapshot.NextZone, snapshot.RequiredExport, snapshot.ExportMargin))
	}
	if snapshot.LearningZone != "" {
		text = append(text, "learning: "+snapshot.LearningZone)
	}
	if snapshot.PanicState != controller.PanicNormal {
		text = append(text, "panic: "+string(snapshot.PanicState))
	}

	return []slack.Attachment{{
		Color: "good",
		Title: "controller status",
		Text:  strings.Join(text, "\n"),
	}}
}

func (b *Bot) ReportZones(_ context.Context, _ ...string) []slack.Attachment {
	snapshot, ok := b.engine.Snapshot()
	if !ok {
		return noUpdateYet()
	}

	text := make([]string, 0, len(snapshot.Zones))
	for _, zone := range snapshot.Zones {
		state := "off"
		if zone.On {
			state = "on"
		}
		line := fmt.Sprintf("%s: %s", zone.Name, state)
		if zone.Temperature != nil {
			line += fmt.Sprintf(", %.1fºC", *zone.Temperature)
		}
		if watts, found := snapshot.LearnedPower[zone.Name]["default"]; found {
			line += fmt.Sprintf(", learned %.0f W", watts)
		}
		if zone.Locked {
			line += ", manual lock"
		}
		text = append(text, line)
	}

	return []slack.Attachment{{
		Color: "good",
		Title: "zones:",
		Text:  strings.Join(text, "\n"),
	}}
}

func (b *Bot) DoRefresh(_ context.Context, _ ...string) []slack.Attachment {
	b.poller.Refresh()
	return []slack.Attachment{{Text: "refreshing"}}
}

// ResetLearning clears the in-flight learning sample. With the "clear"
// argument, stored estimates go back to the bootstrap default too.
func (b *Bot) ResetLearning(_ context.Context, args ...string) []slack.Attachment {
	clearStored := len(args) > 0 && args[0] == "clear"
	b.engine.ResetLearning(clearStored)

	text := "learning sample cleared"
	if clearStored {
		text = "learning reset, stored estimates cleared"
	}
	return []slack.Attachment{{Color: "good", Text: text}}
}

// ForceRelearn re-arms learning for the named zone, or all zones.
func (b *Bot) ForceRelearn(_ context.Context, args ...string) []slack.Attachment {
	var zone string
	if len(args) > 0 {
		zone = args[0]
	}
	if err := b.engine.ForceRelearn(zone); err != nil {
		return []slack.Attachment{{Color: "bad", Text: err.Error()}}
	}
	target := zone
	if target == "" {
		target = "all zones"
	}
	return []slack.Attachment{{Color: "good", Text: "relearning " + target}}
}

func noUpdateYet() []slack.Attachment {
	return []slack.Attachment{{
		Color: "bad",
		Text:  "no updates yet. please check back later",
	}}
}
