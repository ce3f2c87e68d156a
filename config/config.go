package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/util/lines"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

type Command byte

const (
	CommandRun = Command(iota)
	CommandHelp
	CommandSettings
	CommandVersion
	CommandInitChain
)

func (c Command) String() string {
	switch c {
	case CommandRun:
		return "run"
	case CommandHelp:
		return "help"
	case CommandSettings:
		return "settings"
	case CommandVersion:
		return "version"
	case CommandInitChain:
		return "initchain"
	}
	return "unknown"
}

// SyncFailurePolicy decides what happens when the node reports synchronization failure
type SyncFailurePolicy string

const (
	SyncFailureFatal = SyncFailurePolicy("fatal")
	SyncFailureLog   = SyncFailurePolicy("log")
)

type (
	Configuration struct {
		Command    Command        `yaml:"-"`
		ConfigFile string         `yaml:"-"`
		Store      StoreConfig    `yaml:"store"`
		Network    NetworkConfig  `yaml:"network"`
		Peering    PeeringConfig  `yaml:"peering"`
		Sync       SyncConfig     `yaml:"sync"`
		API        APIConfig      `yaml:"api"`
		Metrics    EndpointConfig `yaml:"metrics"`
		Logger     LoggerConfig   `yaml:"logger"`
		Node       NodeConfig     `yaml:"node"`
	}

	StoreConfig struct {
		Dir string `yaml:"dir"`
	}

	NetworkConfig struct {
		Name string `yaml:"name"`
	}

	PeeringConfig struct {
		Port            int           `yaml:"port"`
		Seeds           []string      `yaml:"seeds"`
		SeedTimeout     time.Duration `yaml:"seed_timeout"`
		MaxDynamicPeers int           `yaml:"max_dynamic_peers"`
		AllowLocal      bool          `yaml:"allow_local"`
	}

	SyncConfig struct {
		Timeout       time.Duration     `yaml:"timeout"`
		CheckPeriod   time.Duration     `yaml:"check_period"`
		FailurePolicy SyncFailurePolicy `yaml:"failure_policy"`
	}

	APIConfig struct {
		Query        EndpointConfig `yaml:"query"`
		Subscription EndpointConfig `yaml:"subscription"`
	}

	EndpointConfig struct {
		Enable bool `yaml:"enable"`
		Port   int  `yaml:"port"`
	}

	LoggerConfig struct {
		Level       string   `yaml:"level"`
		Output      []string `yaml:"output"`
		ErrorOutput []string `yaml:"error_output"`
		TimeLayout  string   `yaml:"timelayout"`
		TraceTags   []string `yaml:"trace_tags"`
	}

	NodeConfig struct {
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		MemLogPeriod    time.Duration `yaml:"memlog_period"`
	}
)

// SetDefaults registers default values of all keys in v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.dir", global.DefaultStoreDir)
	v.SetDefault("network.name", global.DefaultNetworkName)
	v.SetDefault("peering.port", global.DefaultPeeringPort)
	v.SetDefault("peering.seeds", []string{})
	v.SetDefault("peering.seed_timeout", global.DefaultSeedTimeout)
	v.SetDefault("peering.max_dynamic_peers", 0)
	v.SetDefault("peering.allow_local", true)
	v.SetDefault("sync.timeout", global.DefaultSyncTimeout)
	v.SetDefault("sync.check_period", global.DefaultSyncCheckPeriod)
	v.SetDefault("sync.failure_policy", string(SyncFailureFatal))
	v.SetDefault("api.query.enable", true)
	v.SetDefault("api.query.port", global.DefaultQueryPort)
	v.SetDefault("api.subscription.enable", true)
	v.SetDefault("api.subscription.port", global.DefaultSubscribePort)
	v.SetDefault("metrics.enable", false)
	v.SetDefault("metrics.port", global.DefaultMetricsPort)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output", []string{"stdout"})
	v.SetDefault("logger.error_output", []string{})
	v.SetDefault("logger.timelayout", global.TimeLayoutDefault)
	v.SetDefault("logger.trace_tags", []string{})
	v.SetDefault("node.shutdown_timeout", global.DefaultShutdownTimeout)
	v.SetDefault("node.memlog_period", global.DefaultMemLogPeriod)
}

// ReadIn reads config file into v. Explicit file must exist, the default one is optional
func ReadIn(v *viper.Viper, configFile string) error {
	v.SetEnvPrefix(global.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("can't read config file '%s': %w", configFile, err)
		}
		return nil
	}
	v.SetConfigName(global.ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("can't read config file: %w", err)
		}
	}
	return nil
}

// Load builds configuration from v. Defaults must be set in advance
func Load(v *viper.Viper, cmd Command) (*Configuration, error) {
	ret := &Configuration{
		Command:    cmd,
		ConfigFile: v.ConfigFileUsed(),
		Store: StoreConfig{
			Dir: v.GetString("store.dir"),
		},
		Network: NetworkConfig{
			Name: v.GetString("network.name"),
		},
		Peering: PeeringConfig{
			Port:            v.GetInt("peering.port"),
			Seeds:           v.GetStringSlice("peering.seeds"),
			SeedTimeout:     v.GetDuration("peering.seed_timeout"),
			MaxDynamicPeers: v.GetInt("peering.max_dynamic_peers"),
			AllowLocal:      v.GetBool("peering.allow_local"),
		},
		Sync: SyncConfig{
			Timeout:       v.GetDuration("sync.timeout"),
			CheckPeriod:   v.GetDuration("sync.check_period"),
			FailurePolicy: SyncFailurePolicy(strings.ToLower(v.GetString("sync.failure_policy"))),
		},
		API: APIConfig{
			Query: EndpointConfig{
				Enable: v.GetBool("api.query.enable"),
				Port:   v.GetInt("api.query.port"),
			},
			Subscription: EndpointConfig{
				Enable: v.GetBool("api.subscription.enable"),
				Port:   v.GetInt("api.subscription.port"),
			},
		},
		Metrics: EndpointConfig{
			Enable: v.GetBool("metrics.enable"),
			Port:   v.GetInt("metrics.port"),
		},
		Logger: LoggerConfig{
			Level:       v.GetString("logger.level"),
			Output:      v.GetStringSlice("logger.output"),
			ErrorOutput: v.GetStringSlice("logger.error_output"),
			TimeLayout:  v.GetString("logger.timelayout"),
			TraceTags:   v.GetStringSlice("logger.trace_tags"),
		},
		Node: NodeConfig{
			ShutdownTimeout: v.GetDuration("node.shutdown_timeout"),
			MemLogPeriod:    v.GetDuration("node.memlog_period"),
		},
	}
	if err := ret.Validate(); err != nil {
		return ret, err
	}
	return ret, nil
}

func validPort(port int, zeroAllowed bool) bool {
	if port == 0 {
		return zeroAllowed
	}
	return port > 0 && port <= 65535
}

// Validate checks settings needed to initialize and run the node.
// Port 0 means 'any free port'
func (c *Configuration) Validate() error {
	if strings.TrimSpace(c.Store.Dir) == "" {
		return fmt.Errorf("store.dir: must not be empty")
	}
	if c.Network.Name == "" {
		return fmt.Errorf("network.name: must not be empty")
	}
	if !validPort(c.Peering.Port, true) {
		return fmt.Errorf("peering.port: wrong port %d", c.Peering.Port)
	}
	for _, s := range c.Peering.Seeds {
		if _, err := peer.AddrInfoFromString(s); err != nil {
			return fmt.Errorf("peering.seeds: wrong peer multiaddress '%s': %w", s, err)
		}
	}
	if c.Peering.SeedTimeout <= 0 {
		return fmt.Errorf("peering.seed_timeout: must be positive")
	}
	if c.Peering.MaxDynamicPeers < 0 {
		return fmt.Errorf("peering.max_dynamic_peers: must not be negative")
	}
	if c.Sync.Timeout <= 0 || c.Sync.CheckPeriod <= 0 {
		return fmt.Errorf("sync.timeout and sync.check_period must be positive")
	}
	switch c.Sync.FailurePolicy {
	case SyncFailureFatal, SyncFailureLog:
	default:
		return fmt.Errorf("sync.failure_policy: must be one of '%s' or '%s', got '%s'",
			SyncFailureFatal, SyncFailureLog, c.Sync.FailurePolicy)
	}
	if c.API.Query.Enable && !validPort(c.API.Query.Port, true) {
		return fmt.Errorf("api.query.port: wrong port %d", c.API.Query.Port)
	}
	if c.API.Subscription.Enable && !validPort(c.API.Subscription.Port, true) {
		return fmt.Errorf("api.subscription.port: wrong port %d", c.API.Subscription.Port)
	}
	if c.Metrics.Enable && !validPort(c.Metrics.Port, true) {
		return fmt.Errorf("metrics.port: wrong port %d", c.Metrics.Port)
	}
	if c.Node.ShutdownTimeout <= 0 {
		return fmt.Errorf("node.shutdown_timeout: must be positive")
	}
	if _, err := global.ParseLevel(c.Logger.Level); err != nil {
		return fmt.Errorf("logger.level: %w", err)
	}
	return nil
}

// SettingsYAML renders effective settings
func (c *Configuration) SettingsYAML() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<can't render settings: %v>", err)
	}
	return string(data)
}

func (c *Configuration) Lines(prefix ...string) *lines.Lines {
	ret := lines.New(prefix...)
	src := c.ConfigFile
	if src == "" {
		src = "<defaults>"
	}
	ret.Add("config source: %s", src).
		Add("store: %s", c.Store.Dir).
		Add("network: %s", c.Network.Name).
		Add("peering port: %d, seeds: %d, max dynamic peers: %d", c.Peering.Port, len(c.Peering.Seeds), c.Peering.MaxDynamicPeers).
		Add("sync failure policy: %s", c.Sync.FailurePolicy)
	return ret
}
