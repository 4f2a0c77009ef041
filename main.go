package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moyoez/csvjobs-dashboard/api"
	"github.com/moyoez/csvjobs-dashboard/api/notifyhub"
	"github.com/moyoez/csvjobs-dashboard/jobapi"
	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/notify"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
	"github.com/moyoez/csvjobs-dashboard/view"
)

const probeTimeout = time.Second

func main() {
	cfg := tool.SetFlags()

	// initialize logger
	tool.InitLogger()
	tool.SetLogMode(cfg.Log)

	appCfg, err := tool.LoadConfig(cfg.UseConfigPath)
	if err != nil {
		tool.DefaultLogger.Fatalf("%v", err)
	}
	tool.ApplyFlagOverrides(&appCfg, cfg)

	if cfg.SkipNotify {
		notify.SetUseNotify(false)
	}
	notify.SetSocketPath(appCfg.NotifySocketPath)

	baseURL := tool.NormalizeBaseURL(appCfg.APIBaseURL)
	client := jobapi.NewClient(baseURL)
	tool.DefaultLogger.Infof("Using job API at %s", baseURL)

	if cfg.Probe {
		probeAPIHost(baseURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exp := view.NewExpansion()
	applyExpandFlag(exp, cfg.Expand)
	a := newApp(client, appCfg.ReportDir, exp, os.Stdout)

	// One-shot modes
	switch {
	case cfg.DownloadReport != "":
		path, err := a.DownloadReport(ctx, cfg.DownloadReport)
		if err != nil {
			tool.DefaultLogger.Fatalf("%v", err)
		}
		tool.DefaultLogger.Infof("Saved error report to %s", path)
		return
	case cfg.Once:
		if err := a.printOnce(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	handler := api.NewDefaultHandler()
	a.onUploaded = handler.OnUploaded

	var hub *notifyhub.Hub
	if appCfg.Dashboard {
		hub = notifyhub.New()
		notify.SetNotifyHub(hub)
	}

	syncer := jobsync.New(jobsync.FromClient(client), jobsync.Options{
		Mode:           syncMode(appCfg.SyncMode),
		PollInterval:   time.Duration(appCfg.PollIntervalMs) * time.Millisecond,
		ReconnectDelay: time.Duration(appCfg.ReconnectDelayMs) * time.Millisecond,
		OnChange: func(snap jobsync.Snapshot) {
			handler.OnJobsChanged(snap)
			a.Redraw()
		},
		OnDone: func(job types.Job) {
			// unix socket writes can take seconds, keep them off the sync loop
			go handler.OnJobDone(job)
		},
	})
	a.syncer = syncer
	syncer.Start()
	defer syncer.Close()
	go a.renderLoop(ctx)

	if appCfg.Dashboard {
		server := api.NewServer(appCfg.DashboardPort, api.Deps{
			Jobs:     syncer,
			Uploader: client,
			Reports:  client,
			Hook:     handler,
			Hub:      hub,
		})
		go func() {
			if err := server.Start(); err != nil {
				tool.DefaultLogger.Errorf("Dashboard API stopped: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				tool.DefaultLogger.Errorf("Failed to stop dashboard API: %v", err)
			}
		}()
	}

	console := view.NewConsole(os.Stdin, os.Stdout, a, exp)
	if cfg.Upload != "" {
		console.Exec(ctx, "u "+cfg.Upload)
	}
	if err := console.Run(ctx); err != nil {
		tool.DefaultLogger.Errorf("Console stopped: %v", err)
	}
	tool.DefaultLogger.Infof("Shutting down")
}

func syncMode(mode string) jobsync.Mode {
	if mode == types.SyncModePoll {
		return jobsync.ModePoll
	}
	return jobsync.ModePush
}

func probeAPIHost(baseURL string) {
	host, err := tool.HostFromBaseURL(baseURL)
	if err != nil {
		tool.DefaultLogger.Warnf("Skipping probe: %v", err)
		return
	}
	if tool.QuickICMPProbe(host, probeTimeout) {
		tool.DefaultLogger.Infof("Job API host %s is reachable", host)
	} else {
		tool.DefaultLogger.Warnf("Job API host %s did not answer ICMP, continuing anyway", host)
	}
}
