package tool

import (
	"flag"
	"os"

	"github.com/moyoez/csvjobs-dashboard/types"
)

// SetFlags parses CLI flags and returns the override config.
func SetFlags() types.Config {
	return ParseFlags(flag.CommandLine, nil)
}

// ParseFlags registers the flags on fs and parses args (os.Args[1:] when args is nil).
func ParseFlags(fs *flag.FlagSet, args []string) types.Config {
	var cfg types.Config
	fs.StringVar(&cfg.Log, "log", "", "log mode: dev|prod|none")
	fs.StringVar(&cfg.UseConfigPath, "useConfigPath", "", "override config file path")
	fs.StringVar(&cfg.UseAPIBaseURL, "useApiBaseUrl", "", "override job API origin, e.g. http://localhost:3000")
	fs.BoolVar(&cfg.UsePoll, "usePoll", false, "refresh the job list on an interval instead of opening live streams")
	fs.IntVar(&cfg.UseDashboardPort, "useDashboardPort", 0, "override local dashboard API port")
	fs.BoolVar(&cfg.SkipDashboard, "skipDashboard", false, "if true, do not start the local dashboard API")
	fs.BoolVar(&cfg.SkipNotify, "skipNotify", false, "if true, skip unix socket notifications")
	fs.BoolVar(&cfg.Once, "once", false, "print the job table once and exit")
	fs.StringVar(&cfg.Upload, "upload", "", "upload this CSV file, then keep watching")
	fs.StringVar(&cfg.DownloadReport, "downloadReport", "", "save the error report of this job id and exit")
	fs.StringVar(&cfg.Expand, "expand", "", "comma separated job ids to expand, or 'all'")
	fs.BoolVar(&cfg.Probe, "probe", false, "ICMP probe the API host before starting")
	if args == nil {
		args = os.Args[1:]
	}
	_ = fs.Parse(args)
	return cfg
}
