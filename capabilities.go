package embermqtt

import (
	"log/slog"
	"runtime"
	"time"
)

// Capabilities advertises and enforces the broker-wide protocol limits
// referenced throughout the connection state machine and broker core.
type Capabilities struct {
	MaximumSessionExpiryInterval uint32 `yaml:"maximum_session_expiry_interval"`
	MaximumClientWritesPending   int32  `yaml:"maximum_client_writes_pending"`
	MaximumMessageExpiryInterval uint32 `yaml:"maximum_message_expiry_interval"`
	ReceiveMaximum               uint16 `yaml:"receive_maximum"`
	MaximumQos                   byte   `yaml:"maximum_qos"`
	RetainAvailable              bool   `yaml:"retain_available"`
	MaximumPacketSize            uint32 `yaml:"maximum_packet_size"`
	MaximumTopicAlias            uint16 `yaml:"maximum_topic_alias"`
	WildcardSubAvailable         bool   `yaml:"wildcard_subscription_available"`
	SubIDAvailable               bool   `yaml:"subscription_identifier_available"`
	SharedSubAvailable           bool   `yaml:"shared_subscription_available"`
	ServerKeepAlive              uint16 `yaml:"server_keep_alive"`
	ResponseInformation          string `yaml:"response_information"`

	// Compatibilities holds legacy v3.1.1 toggles read from config; no
	// broker code path reads them, so they change no behaviour.
	Compatibilities Compatibilities `yaml:"compatibilities"`
}

// Compatibilities carries toggles for v3.1.1 clients. The fields are
// parsed from config but are not consulted by any validation check.
type Compatibilities struct {
	ObscureNotAuthorized  bool `yaml:"obscure_not_authorized"`
	PassiveClientDisconnect bool `yaml:"passive_client_disconnect"`
}

// DefaultCapabilities returns the broker's out-of-the-box limits.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		MaximumSessionExpiryInterval: NeverExpire,
		MaximumClientWritesPending:   1024 * 8,
		MaximumMessageExpiryInterval: 60 * 60 * 24,
		ReceiveMaximum:               1024,
		MaximumQos:                   2,
		RetainAvailable:              true,
		MaximumPacketSize:            0,
		MaximumTopicAlias:            65535,
		WildcardSubAvailable:         true,
		SubIDAvailable:               true,
		SharedSubAvailable:           true,
	}
}

// Options configures a Broker. Fields left zero take the default from
// DefaultCapabilities and ensureDefaults.
type Options struct {
	Capabilities       *Capabilities
	Logger             *slog.Logger
	SysTopicInterval   time.Duration
	FanoutWorkers      int
	InlineClient       bool
}

// ensureDefaults fills unset Options fields, mirroring the teacher's
// Options.ensureDefaults.
func (o *Options) ensureDefaults() {
	if o.Capabilities == nil {
		caps := DefaultCapabilities()
		o.Capabilities = &caps
	}
	if o.SysTopicInterval == 0 {
		o.SysTopicInterval = time.Second
	}
	if o.FanoutWorkers == 0 {
		o.FanoutWorkers = runtime.GOMAXPROCS(0)
	}
}
