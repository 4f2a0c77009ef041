package types

// AppConfig represents the application configuration loaded from config file
type AppConfig struct {
	APIBaseURL       string `yaml:"apiBaseUrl"`
	SyncMode         string `yaml:"syncMode"` // push | poll
	PollIntervalMs   int    `yaml:"pollIntervalMs"`
	ReconnectDelayMs int    `yaml:"reconnectDelayMs"`
	Dashboard        bool   `yaml:"dashboard"`
	DashboardPort    int    `yaml:"dashboardPort"`
	NotifySocketPath string `yaml:"notifySocketPath,omitempty"`
	ReportDir        string `yaml:"reportDir"`
}

const (
	SyncModePush = "push"
	SyncModePoll = "poll"
)

// Config holds runtime overrides from CLI flags
type Config struct {
	Log              string
	UseConfigPath    string
	UseAPIBaseURL    string
	UsePoll          bool // if true, refresh on an interval instead of opening live streams.
	UseDashboardPort int
	SkipDashboard    bool   // if true, do not start the local dashboard API.
	SkipNotify       bool   // if true, skip unix socket notifications.
	Once             bool   // print the job table once and exit.
	Upload           string // upload this CSV before watching.
	DownloadReport   string // save the error report of this job id and exit.
	Expand           string // comma separated job ids, or "all".
	Probe            bool   // ICMP probe the API host on startup.
}
