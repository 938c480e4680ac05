// Package ops loads the process configuration.
package ops

import (
	"strings"

	"github.com/go-viper/encoding/javaproperties"
	"github.com/spf13/viper"
	"github.com/yanun0323/errors"

	"poscheck/internal/disruptor"
	"poscheck/internal/replication"
	"poscheck/internal/store"
	"poscheck/pkg/exception"
)

const envPrefix = "POSCHECK"

// Config is the resolved process configuration.
type Config struct {
	BufferSize           int
	ReaderClass          string
	WriterClass          string
	InboundJournalPath   string
	OutboundJournalPath  string
	LedgerPath           string
	JournalSync          bool
	InboundWaitStrategy  string
	OutboundWaitStrategy string
	Primary              bool

	LedgerStore        string
	LedgerPersistBatch bool
	PostgresDSN        string

	Replication ReplicationConfig
	Reader      FileConfig
	Writer      FileConfig
	RabbitMQ    RabbitMQConfig
	Kafka       KafkaConfig

	AdminAddr string
	Profiling ProfilingConfig
}

type ReplicationConfig struct {
	Mode        string
	FilePath    string
	RedisAddr   string
	RedisStream string
}

type FileConfig struct {
	Path string
}

type RabbitMQConfig struct {
	URL           string
	Exchange      string
	RequestTopic  string
	ResponseTopic string
	Queue         string
}

type KafkaConfig struct {
	Brokers       []string
	GroupID       string
	RequestTopic  string
	ResponseTopic string
}

type ProfilingConfig struct {
	Enabled       bool
	ServerAddress string
}

// Load reads path (properties, yaml or json) with POSCHECK_ environment overrides, e.g.
// POSCHECK_BUFFER_SIZE for buffer.size. An empty path uses defaults and the environment only.
func Load(path string) (Config, error) {
	v, err := newViper()
	if err != nil {
		return Config{}, err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config").With("path", path)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// newViper returns a viper instance that also decodes java properties files.
func newViper() (*viper.Viper, error) {
	codecs := viper.NewCodecRegistry()
	for _, ext := range []string{"properties", "props", "prop"} {
		if err := codecs.RegisterCodec(ext, &javaproperties.Codec{}); err != nil {
			return nil, errors.Wrap(err, "register properties codec").With("ext", ext)
		}
	}
	return viper.NewWithOptions(viper.WithCodecRegistry(codecs)), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("buffer.size", 1024)
	v.SetDefault("disruptor.reader.class", "channel")
	v.SetDefault("disruptor.writer.class", "log")
	v.SetDefault("inbound.journal.recovery.file.path", "data/inbound")
	v.SetDefault("outbound.journal.file.path", "data/outbound")
	v.SetDefault("chronicle.map.file.path", "data/ledger")
	v.SetDefault("journal.sync", false)
	v.SetDefault("inbound.wait.strategy", "blocking")
	v.SetDefault("outbound.wait.strategy", "blocking")
	v.SetDefault("failover.primary", true)
	v.SetDefault("ledger.store", store.KindBadger)
	v.SetDefault("ledger.persist.batch", false)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("replication.mode", replication.ModeNone)
	v.SetDefault("replication.file.path", "data/replica")
	v.SetDefault("replication.redis.addr", "localhost:6379")
	v.SetDefault("replication.redis.stream", "poscheck:inbound")
	v.SetDefault("reader.file.path", "")
	v.SetDefault("writer.file.path", "")
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "poscheck")
	v.SetDefault("rabbitmq.request.topic", "poscheck.request")
	v.SetDefault("rabbitmq.response.topic", "poscheck.response")
	v.SetDefault("rabbitmq.queue", "poscheck.request")
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.group.id", "poscheck")
	v.SetDefault("kafka.request.topic", "poscheck-request")
	v.SetDefault("kafka.response.topic", "poscheck-response")
	v.SetDefault("admin.addr", ":8080")
	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.server.address", "http://localhost:4040")
}

func fromViper(v *viper.Viper) Config {
	return Config{
		BufferSize:           v.GetInt("buffer.size"),
		ReaderClass:          strings.TrimSpace(v.GetString("disruptor.reader.class")),
		WriterClass:          strings.TrimSpace(v.GetString("disruptor.writer.class")),
		InboundJournalPath:   v.GetString("inbound.journal.recovery.file.path"),
		OutboundJournalPath:  v.GetString("outbound.journal.file.path"),
		LedgerPath:           v.GetString("chronicle.map.file.path"),
		JournalSync:          v.GetBool("journal.sync"),
		InboundWaitStrategy:  v.GetString("inbound.wait.strategy"),
		OutboundWaitStrategy: v.GetString("outbound.wait.strategy"),
		Primary:              v.GetBool("failover.primary"),
		LedgerStore:          strings.ToLower(v.GetString("ledger.store")),
		LedgerPersistBatch:   v.GetBool("ledger.persist.batch"),
		PostgresDSN:          v.GetString("postgres.dsn"),
		Replication: ReplicationConfig{
			Mode:        strings.ToLower(v.GetString("replication.mode")),
			FilePath:    v.GetString("replication.file.path"),
			RedisAddr:   v.GetString("replication.redis.addr"),
			RedisStream: v.GetString("replication.redis.stream"),
		},
		Reader: FileConfig{Path: v.GetString("reader.file.path")},
		Writer: FileConfig{Path: v.GetString("writer.file.path")},
		RabbitMQ: RabbitMQConfig{
			URL:           v.GetString("rabbitmq.url"),
			Exchange:      v.GetString("rabbitmq.exchange"),
			RequestTopic:  v.GetString("rabbitmq.request.topic"),
			ResponseTopic: v.GetString("rabbitmq.response.topic"),
			Queue:         v.GetString("rabbitmq.queue"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitList(v.GetStringSlice("kafka.brokers")),
			GroupID:       v.GetString("kafka.group.id"),
			RequestTopic:  v.GetString("kafka.request.topic"),
			ResponseTopic: v.GetString("kafka.response.topic"),
		},
		AdminAddr: v.GetString("admin.addr"),
		Profiling: ProfilingConfig{
			Enabled:       v.GetBool("profiling.enabled"),
			ServerAddress: v.GetString("profiling.server.address"),
		},
	}
}

// splitList accepts both list values and a single comma separated string.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.BufferSize <= 0 || c.BufferSize&(c.BufferSize-1) != 0 {
		return exception.ErrInvalidBufferSize
	}
	if c.ReaderClass == "" {
		return errors.New("disruptor.reader.class is required")
	}
	if c.WriterClass == "" {
		return errors.New("disruptor.writer.class is required")
	}
	if c.InboundJournalPath == "" {
		return errors.New("inbound.journal.recovery.file.path is required")
	}
	if c.OutboundJournalPath == "" {
		return errors.New("outbound.journal.file.path is required")
	}
	if c.InboundJournalPath == c.OutboundJournalPath {
		return errors.New("inbound and outbound journals must not share a directory")
	}
	for key, name := range map[string]string{
		"inbound.wait.strategy":  c.InboundWaitStrategy,
		"outbound.wait.strategy": c.OutboundWaitStrategy,
	} {
		if _, err := disruptor.ParseWaitStrategy(name); err != nil {
			return errors.Wrap(err, "validate config").With(key, name)
		}
	}
	if !store.ValidKind(c.LedgerStore) {
		return exception.ErrUnknownStore
	}
	switch c.LedgerStore {
	case store.KindPostgres:
		if c.PostgresDSN == "" {
			return errors.New("postgres.dsn is required for the postgres ledger store")
		}
	case store.KindMemory:
	default:
		if c.LedgerPath == "" {
			return errors.New("chronicle.map.file.path is required")
		}
	}
	if !replication.ValidMode(c.Replication.Mode) {
		return errors.Errorf("unknown replication.mode %q", c.Replication.Mode)
	}
	if c.Replication.Mode == replication.ModeFile && c.Replication.FilePath == "" {
		return errors.New("replication.file.path is required")
	}
	if c.Replication.Mode == replication.ModeRedis && c.Replication.RedisAddr == "" {
		return errors.New("replication.redis.addr is required")
	}
	return nil
}
