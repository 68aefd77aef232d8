package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"

	DefaultPrecision = int64(100)
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"CEDAR_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"CEDAR_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"CEDAR_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"CEDAR_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"CEDAR_REDIS_DNS"`
}

type QueueConfig struct {
	WebhookQueue    string `json:"webhook_queue" envconfig:"CEDAR_QUEUE_WEBHOOK"`
	HoldExpiryQueue string `json:"hold_expiry_queue" envconfig:"CEDAR_QUEUE_HOLD_EXPIRY"`
}

// FraudConfig holds the rule thresholds and weights. The source material
// for these values is deliberately configuration, not fixed behavior:
// operators tune them per deployment and reload without restart.
type FraudConfig struct {
	FlagThreshold    float64 `json:"flag_threshold" envconfig:"CEDAR_FRAUD_FLAG_THRESHOLD"`
	DeclineThreshold float64 `json:"decline_threshold" envconfig:"CEDAR_FRAUD_DECLINE_THRESHOLD"`

	VelocityWindow       Duration `json:"velocity_window"`
	VelocityMaxCount     int      `json:"velocity_max_count" envconfig:"CEDAR_FRAUD_VELOCITY_MAX_COUNT"`
	VelocityMaxAmount    int64    `json:"velocity_max_amount" envconfig:"CEDAR_FRAUD_VELOCITY_MAX_AMOUNT"`
	VelocityWeight       float64  `json:"velocity_weight"`
	OutlierDeviations    float64  `json:"outlier_deviations" envconfig:"CEDAR_FRAUD_OUTLIER_DEVIATIONS"`
	OutlierMinimumSample int      `json:"outlier_minimum_sample"`
	OutlierWeight        float64  `json:"outlier_weight"`
	RiskListedAccounts   []string `json:"risk_listed_accounts"`
	DestinationWeight    float64  `json:"destination_weight"`

	// HoldExpiry is how long a flagged transaction stays open for review
	// before the expiry worker declines it.
	HoldExpiry Duration `json:"hold_expiry"`
}

type TimeoutConfig struct {
	FraudEvaluation Duration `json:"fraud_evaluation"`
	LedgerCommit    Duration `json:"ledger_commit"`
	MaxCommitRetry  int      `json:"max_commit_retry" envconfig:"CEDAR_MAX_COMMIT_RETRY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"CEDAR_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"CEDAR_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"CEDAR_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"CEDAR_PROJECT_NAME"`
	Precision    int64            `json:"precision" envconfig:"CEDAR_PRECISION"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Fraud        FraudConfig      `json:"fraud"`
	Timeouts     TimeoutConfig    `json:"timeouts"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
	Notification Notification     `json:"notification"`
}

// Duration wraps time.Duration so config files can carry values like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case float64:
		d.Duration = time.Duration(value) * time.Second
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return errors.New("invalid duration")
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("cedar", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

// Reload re-reads the config file and swaps the stored configuration
// atomically. In-flight requests keep the snapshot they fetched.
func Reload(configFile string) error {
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called cedar.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Cedar Ledger"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Precision == 0 {
		cnf.Precision = DefaultPrecision
	}

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "cedar:webhook"
	}
	if cnf.Queue.HoldExpiryQueue == "" {
		cnf.Queue.HoldExpiryQueue = "cedar:hold_expiry"
	}

	cnf.Fraud.addDefaults()
	cnf.Timeouts.addDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (f *FraudConfig) addDefaults() {
	if f.FlagThreshold == 0 {
		f.FlagThreshold = 0.6
	}
	if f.DeclineThreshold == 0 {
		f.DeclineThreshold = 0.85
	}
	if f.VelocityWindow.Duration == 0 {
		f.VelocityWindow.Duration = time.Hour
	}
	if f.VelocityMaxCount == 0 {
		f.VelocityMaxCount = 10
	}
	if f.VelocityWeight == 0 {
		f.VelocityWeight = 0.5
	}
	if f.OutlierDeviations == 0 {
		f.OutlierDeviations = 3
	}
	if f.OutlierMinimumSample == 0 {
		f.OutlierMinimumSample = 5
	}
	if f.OutlierWeight == 0 {
		f.OutlierWeight = 0.4
	}
	if f.DestinationWeight == 0 {
		f.DestinationWeight = 1
	}
	if f.HoldExpiry.Duration == 0 {
		f.HoldExpiry.Duration = 24 * time.Hour
	}
}

func (t *TimeoutConfig) addDefaults() {
	if t.FraudEvaluation.Duration == 0 {
		t.FraudEvaluation.Duration = 5 * time.Second
	}
	if t.LedgerCommit.Duration == 0 {
		t.LedgerCommit.Duration = 30 * time.Second
	}
	if t.MaxCommitRetry == 0 {
		t.MaxCommitRetry = 3
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Precision == 0 {
		mockConfig.Precision = DefaultPrecision
	}
	mockConfig.Fraud.addDefaults()
	mockConfig.Timeouts.addDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
