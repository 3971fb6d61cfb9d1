package domain

import "time"

type ChannelID string

type ChannelType string

const (
	ChannelHTTP   ChannelType = "http"
	ChannelTCP    ChannelType = "tcp"
	ChannelDNS    ChannelType = "dns"
	ChannelScript ChannelType = "script"
)

// Channel is a monitored target and its probe configuration.
// Zero interval/timeout/threshold fall back to the scheduler defaults.
type Channel struct {
	ID           ChannelID   `yaml:"id" json:"id" validate:"required,excludesall=/"`
	Name         string      `yaml:"name,omitempty" json:"name,omitempty"`
	Type         ChannelType `yaml:"type" json:"type" validate:"required,oneof=http tcp dns script"`
	URL          string      `yaml:"url,omitempty" json:"url,omitempty" validate:"required_if=Type http,omitempty,url"`
	Host         string      `yaml:"host,omitempty" json:"host,omitempty" validate:"required_if=Type tcp"`
	Port         int         `yaml:"port,omitempty" json:"port,omitempty" validate:"required_if=Type tcp,omitempty,min=1,max=65535"`
	Hostname     string      `yaml:"hostname,omitempty" json:"hostname,omitempty" validate:"required_if=Type dns"`
	Command      string      `yaml:"command,omitempty" json:"command,omitempty" validate:"required_if=Type script"`
	Args         []string    `yaml:"args,omitempty" json:"args,omitempty"`
	IntervalSec  int         `yaml:"interval_sec,omitempty" json:"intervalSec,omitempty" validate:"omitempty,min=1"`
	TimeoutMS    int         `yaml:"timeout_ms,omitempty" json:"timeoutMs,omitempty" validate:"omitempty,min=1"`
	Threshold    int         `yaml:"threshold,omitempty" json:"threshold,omitempty" validate:"omitempty,min=1"`
	Guards       []string    `yaml:"guards,omitempty" json:"guards,omitempty"`
	ExpectStatus []int       `yaml:"expect_status,omitempty" json:"expectStatus,omitempty" validate:"omitempty,dive,min=100,max=599"`
}

// DisplayName falls back to the id when no name is configured.
func (c Channel) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.ID)
}

func (c Channel) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

func (c Channel) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)
