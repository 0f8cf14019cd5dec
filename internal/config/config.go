package config

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/Netflix/go-env"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/nimasrn/billing-engine/pkg/logger"
	"github.com/nimasrn/billing-engine/pkg/pg"
	"github.com/pkg/errors"
)

const (
	QueueBackendSQS   = "sqs"
	QueueBackendRedis = "redis"
)

// Config holds every setting the engine reads. Values come from the process
// environment, optionally seeded from a dotenv file. Components receive the
// struct explicitly; nothing reads the environment directly.
type Config struct {
	AppEnv  string `env:"APP_ENV" default:"dev"`
	AppName string `env:"APP_NAME" default:"billing_engine"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR" default:":8080"`
	MetricsAddr    string `env:"METRICS_ADDR" default:":9100"`
	MetricsURI     string `env:"METRICS_URI" default:"/metrics"`
	PromNamespace  string `env:"PROM_NAMESPACE" default:"billing"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT" default:"5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT" default:"5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	MongoURI        string `env:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase   string `env:"MONGO_DATABASE" default:"billing"`
	MongoCollection string `env:"MONGO_COLLECTION" default:"transactions"`

	RedisAddr               string `env:"REDIS_ADDR" default:"localhost:6379"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX" default:"billing:"`

	StartupRetryTimeout time.Duration `env:"STARTUP_RETRY_TIMEOUT" default:"30s"`

	QueueBackend           string        `env:"QUEUE_BACKEND" default:"redis"`
	QueueName              string        `env:"QUEUE_NAME" default:"transactions"`
	QueueURL               string        `env:"SQS_QUEUE_URL"`
	QueueRegion            string        `env:"AWS_REGION" default:"us-east-1"`
	QueueEndpoint          string        `env:"SQS_ENDPOINT"`
	QueueMessageGroupID    string        `env:"QUEUE_MESSAGE_GROUP_ID" default:"BJJ-TRANSACTIONS-GROUP"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP" default:"billing-consumers"`
	QueueConsumerName      string        `env:"QUEUE_CONSUMER_NAME" default:"billing-consumer"`
	QueueConsumers         int           `env:"QUEUE_CONSUMERS" default:"2"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES" default:"10"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" default:"1h"`
	QueueWaitTime          time.Duration `env:"QUEUE_WAIT_TIME" default:"10s"`
	QueueBatchSize         int           `env:"QUEUE_BATCH_SIZE" default:"10"`
	QueueBatchBudget       time.Duration `env:"QUEUE_BATCH_BUDGET" default:"60s"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ" default:"true"`

	DatacapBaseURL  string        `env:"DATACAP_BASE_URL"`
	DatacapSalePath string        `env:"DATACAP_SALE_PATH" default:"/credit/sale"`
	DatacapMID      string        `env:"DATACAP_MID"`
	DatacapTimeout  time.Duration `env:"DATACAP_TIMEOUT" default:"20s"`
	UserAgent       string        `env:"DATACAP_USER_AGENT" default:"BJJLINK/2.0.4"`
	DatacapMaxConns int           `env:"DATACAP_MAX_CONNS" default:"64"`

	BreakerThreshold int           `env:"DATACAP_BREAKER_THRESHOLD" default:"5"`
	BreakerTimeout   time.Duration `env:"DATACAP_BREAKER_TIMEOUT" default:"30s"`

	FetchLimit     int           `env:"FETCH_LIMIT" default:"20"`
	FetchStopGrace time.Duration `env:"FETCH_STOP_GRACE" default:"5s"`
	FetchSchedule  string        `env:"FETCH_SCHEDULE" default:"*/15 * * * *"`
	FetchBudget    time.Duration `env:"FETCH_BUDGET" default:"5m"`

	DispatchGrace        time.Duration `env:"GRACE_TIME_TO_PUSH_MESSAGE"`
	DispatchAnchorOffset time.Duration `env:"DISPATCH_ANCHOR_OFFSET" default:"1h"`

	ConsumerStopGrace      time.Duration `env:"CONSUMER_STOP_GRACE" default:"3s"`
	RetryVisibilityTimeout time.Duration `env:"RETRY_VISIBILITY_TIMEOUT"`
	RetryCodes             string        `env:"RETRY_CODES"`
	SlotLockTTL            time.Duration `env:"SLOT_LOCK_TTL" default:"30s"`
	ChargeLockTTL          time.Duration `env:"CHARGE_LOCK_TTL" default:"2m"`
}

// Load reads an optional dotenv file and maps the environment onto a Config.
func Load(path string) (*Config, error) {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return nil, errors.Wrapf(err, "failed to load configuration file %s", path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return nil, errors.Wrap(err, "failed to map env variables to Configuration object")
	}

	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return c, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.QueueBackend, validation.Required, validation.In(QueueBackendSQS, QueueBackendRedis)),
		validation.Field(&c.QueueURL, validation.When(c.QueueBackend == QueueBackendSQS, validation.Required)),
		validation.Field(&c.QueueName, validation.When(c.QueueBackend == QueueBackendRedis, validation.Required)),
		validation.Field(&c.FetchLimit, validation.Min(1)),
		validation.Field(&c.QueueBatchSize, validation.Min(1), validation.Max(10)),
		validation.Field(&c.QueueConsumers, validation.Min(1)),
		validation.Field(&c.DispatchGrace, validation.Min(time.Duration(0))),
		validation.Field(&c.RetryCodes, validation.By(validRetryCodes)),
	)
}

func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
	}
}

func (c *Config) Debug() bool {
	return c.AppEnv == "dev"
}

// RetryTable decodes RETRY_CODES, a JSON object of gateway return code to
// visibility timeout in seconds, e.g. {"003007": 3600, "100202": 0}.
// A zero timeout falls back to the default retry visibility.
func (c *Config) RetryTable() (map[string]time.Duration, error) {
	table := make(map[string]time.Duration)
	if c.RetryCodes == "" {
		return table, nil
	}
	raw := make(map[string]json.Number)
	if err := json.Unmarshal([]byte(c.RetryCodes), &raw); err != nil {
		return nil, errors.Wrap(err, "RETRY_CODES must be a JSON object")
	}
	for code, secs := range raw {
		n, err := strconv.ParseInt(secs.String(), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "RETRY_CODES[%s]", code)
		}
		table[code] = time.Duration(n) * time.Second
	}
	return table, nil
}

func validRetryCodes(value interface{}) error {
	s, _ := value.(string)
	_, err := (&Config{RetryCodes: s}).RetryTable()
	return err
}
