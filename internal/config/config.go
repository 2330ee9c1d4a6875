package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Region    RegionConfig
	Provider  ProviderConfig
	Scheduler SchedulerConfig
	Worker    WorkerConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Addr     string
	User     string
	Password string
	Database string
}

type RegionConfig struct {
	// Table is a JSON array of region entries; empty means the built-in
	// deployment table.
	Table string
	// LocalCode overrides discovery of the local region. When empty the
	// region is read from the instance metadata endpoint.
	LocalCode string
	// MetadataEndpoint is where the local instance describes itself.
	MetadataEndpoint string
}

type ProviderConfig struct {
	// Kind selects the compute backend: "oci" or "docker".
	Kind string

	// OCI settings.
	CompartmentID      string
	AvailabilityDomain string
	SubnetID           string
	Shape              string
	ConfigFile         string

	// Boot images per runner kind, with a fallback for unlisted kinds.
	DefaultImage    string
	ASEImage        string
	OMMImage        string
	StaticImage     string
	TrajectoryImage string

	// Docker settings, used by the dev backend.
	DockerNetwork  string
	DockerMemoryMB int64
	DockerCPU      float64

	// Instance bootstrap.
	BootstrapTarballURL string
	SSHPublicKeyFile    string
}

type SchedulerConfig struct {
	TickPeriod       time.Duration
	FailurePolicy    string
	MonitorLaunched  bool
	CheckConcurrency int
	ProbePort        int
	ProbeTimeout     time.Duration
	WarmUpLead       time.Duration
	MaxSessionLength time.Duration
}

type WorkerConfig struct {
	Concurrency int
}

type MetricsConfig struct {
	Addr string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Addr:     getEnv("POSTGRES_ADDR", "localhost:5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "simcloud"),
		},
		Region: RegionConfig{
			Table:            getEnv("REGION_TABLE", ""),
			LocalCode:        getEnv("REGION_LOCAL_CODE", ""),
			MetadataEndpoint: getEnv("REGION_METADATA_ENDPOINT", ""),
		},
		Provider: ProviderConfig{
			Kind:                getEnv("PROVIDER_KIND", "oci"),
			CompartmentID:       getEnv("OCI_COMPARTMENT_ID", ""),
			AvailabilityDomain:  getEnv("OCI_AVAILABILITY_DOMAIN", ""),
			SubnetID:            getEnv("OCI_SUBNET_ID", ""),
			Shape:               getEnv("OCI_SHAPE", "VM.GPU2.1"),
			ConfigFile:          getEnv("OCI_CONFIG_FILE", ""),
			DefaultImage:        getEnv("IMAGE_DEFAULT", ""),
			ASEImage:            getEnv("IMAGE_ASE", ""),
			OMMImage:            getEnv("IMAGE_OMM", ""),
			StaticImage:         getEnv("IMAGE_STATIC", ""),
			TrajectoryImage:     getEnv("IMAGE_TRAJECTORY", ""),
			DockerNetwork:       getEnv("DOCKER_NETWORK", "simcloud-net"),
			DockerMemoryMB:      int64(getIntEnv("DOCKER_MEMORY_MB", 2048)),
			DockerCPU:           getFloatEnv("DOCKER_CPU", 1.0),
			BootstrapTarballURL: getEnv("BOOTSTRAP_TARBALL_URL", ""),
			SSHPublicKeyFile:    getEnv("SSH_PUBLIC_KEY_FILE", ""),
		},
		Scheduler: SchedulerConfig{
			TickPeriod:       getDurationEnv("SCHEDULER_TICK_PERIOD", 30*time.Second),
			FailurePolicy:    getEnv("SCHEDULER_FAILURE_POLICY", "mark-failed"),
			MonitorLaunched:  getBoolEnv("SCHEDULER_MONITOR_LAUNCHED", true),
			CheckConcurrency: getIntEnv("SCHEDULER_CHECK_CONCURRENCY", 8),
			ProbePort:        getIntEnv("PROBE_PORT", 38801),
			ProbeTimeout:     getDurationEnv("PROBE_TIMEOUT", time.Second),
			WarmUpLead:       getDurationEnv("SESSION_WARM_UP_LEAD", 10*time.Minute),
			MaxSessionLength: getDurationEnv("SESSION_MAX_LENGTH", 5*time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency: getIntEnv("WORKER_CONCURRENCY", 5),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
