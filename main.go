package main

import (
	"embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/events"

	"github.com/hotmic/hotmic/internal/app"
)

//go:embed all:frontend/dist
var assets embed.FS

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.Info("starting hotmic", "version", version, "commit", commit, "date", date)

	svc := app.New(version)
	if err := svc.Startup(); err != nil {
		fmt.Fprintf(os.Stderr, "hotmic: %v\n", err)
		os.Exit(1)
	}

	wapp := application.New(application.Options{
		Name:        "hotmic",
		Description: "Push-to-talk dictation",
		Services: []application.Service{
			application.NewService(svc),
		},
		Assets: application.AssetOptions{
			Handler: application.BundledAssetFileServer(assets),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: false,
		},
	})

	geo := svc.IndicatorGeometry()

	// The indicator: a small frameless always-on-top circle. Dragging it
	// moves the window; the position lives only in memory.
	indicator := wapp.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:         "hotmic",
		Width:         geo.Size + 40,
		Height:        geo.Size + 60,
		URL:           "/",
		Frameless:     true,
		AlwaysOnTop:   true,
		DisableResize: true,
	})
	indicator.SetAbsolutePosition(geo.X, geo.Y)

	// The transcript log window stays hidden until asked for, and hides
	// instead of closing so it can be reopened.
	transcripts := wapp.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:  "Transcripts",
		Width:  700,
		Height: 500,
		URL:    "/transcripts.html",
		Hidden: true,
	})
	transcripts.RegisterHook(events.Common.WindowClosing, func(e *application.WindowEvent) {
		e.Cancel()
		transcripts.Hide()
	})

	if err := svc.Init(wapp, indicator); err != nil {
		fmt.Fprintf(os.Stderr, "hotmic: %v\n", err)
		os.Exit(1)
	}

	systemTray := wapp.SystemTray.New()
	trayMenu := wapp.NewMenu()
	trayMenu.Add("Toggle listening").OnClick(func(ctx *application.Context) {
		svc.ToggleListening()
	})
	trayMenu.Add("Show transcript log").OnClick(func(ctx *application.Context) {
		transcripts.Show()
		transcripts.Focus()
	})
	trayMenu.AddSeparator()
	trayMenu.Add("Quit").
		SetAccelerator("CmdOrCtrl+Q").
		OnClick(func(ctx *application.Context) {
			svc.Shutdown()
			wapp.Quit()
		})
	systemTray.SetMenu(trayMenu)

	if err := wapp.Run(); err != nil {
		slog.Error("run app", "error", err)
	}
}
