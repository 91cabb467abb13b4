package config

import "time"

// Config representa a estrutura raiz do arquivo YAML do dashboard.
type Config struct {
	Version    string         `yaml:"version" validate:"required"`
	Server     ServerConf     `yaml:"server" validate:"required"`
	Logging    LoggingConf    `yaml:"logging"`
	Metrics    MetricsConf    `yaml:"metrics"`
	Reconciler ReconcilerConf `yaml:"reconciler"`
	Storage    StorageConf    `yaml:"storage"`
	Instances  InstancesConf  `yaml:"instances"`
	Middleware MiddlewareConf `yaml:"middleware"`
	Cache      CacheConf      `yaml:"cache"`
	Reload     ReloadConf     `yaml:"reload"`
}

// ServerConf contém as configurações de runtime do servidor HTTP.
type ServerConf struct {
	Name         string   `yaml:"name" validate:"required,hostname_rfc1123"`
	Port         int      `yaml:"port" validate:"required,gt=0,lt=65536"`
	CORSOrigins  []string `yaml:"cors_origins"`
	ReadTimeout  string   `yaml:"read_timeout"`
	WriteTimeout string   `yaml:"write_timeout"`
}

type LoggingConf struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format  string `yaml:"format" validate:"required,oneof=json console"`
}

type MetricsConf struct {
	Datadog DatadogConf `yaml:"datadog"`
}

type DatadogConf struct {
	Enabled   bool     `yaml:"enabled"`
	Addr      string   `yaml:"addr" validate:"required_if=Enabled true"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

// ReconcilerConf controla o loop de sincronização de status das tasks.
type ReconcilerConf struct {
	Enabled      bool   `yaml:"enabled"`
	Interval     string `yaml:"interval"`      // Ex: "30s"
	ErrorBackoff string `yaml:"error_backoff"` // Ex: "60s"
}

// StorageConf seleciona o backend de persistência das tasks e runs.
type StorageConf struct {
	Backend string `yaml:"backend" validate:"required,oneof=memory file sqlite dynamodb postgres"`
	Path    string `yaml:"path" validate:"required_if=Backend file,required_if=Backend sqlite"`
	Table   string `yaml:"table" validate:"required_if=Backend dynamodb"`
	DSN     string `yaml:"dsn" validate:"required_if=Backend postgres"`
	Region  string `yaml:"region"`
	// RunsDir guarda workflows.json e batch_runs.json; vazio mantém em memória
	RunsDir   string `yaml:"runs_dir"`
	UploadDir string `yaml:"upload_dir"`
}

type InstancesConf struct {
	File          string                    `yaml:"file"`
	LocationsFile string                    `yaml:"locations_file"`
	GatewayURL    string                    `yaml:"gateway_url"`
	Static        []InstanceConf            `yaml:"static" validate:"dive"`
	Credentials   map[string]CredentialConf `yaml:"credentials" validate:"dive"`
}

type InstanceConf struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required"`
}

// CredentialConf define como autenticar em uma instância TES.
type CredentialConf struct {
	Token        string `yaml:"token"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	TokenURL     string `yaml:"token_url" validate:"omitempty,url"`
	ClientID     string `yaml:"client_id" validate:"required_with=TokenURL"`
	ClientSecret string `yaml:"client_secret" validate:"required_with=TokenURL"`
}

// MiddlewareConf indica de onde carregar as declarações do pipeline.
type MiddlewareConf struct {
	Source      string `yaml:"source"` // file, s3:// ou dynamodb://
	UseDefaults bool   `yaml:"use_defaults"`
}

type CacheConf struct {
	Backend       string `yaml:"backend" validate:"omitempty,oneof=memory redis"`
	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SweepInterval string `yaml:"sweep_interval"`
}

type ReloadConf struct {
	QueueURL string `yaml:"queue_url" validate:"omitempty,url"`
}

// GetReadTimeout retorna o timeout de leitura com fallback de 15s.
func (s ServerConf) GetReadTimeout() time.Duration {
	return parseDuration(s.ReadTimeout, 15*time.Second)
}

// GetWriteTimeout retorna o timeout de escrita com fallback de 60s.
func (s ServerConf) GetWriteTimeout() time.Duration {
	return parseDuration(s.WriteTimeout, 60*time.Second)
}

func (r ReconcilerConf) GetInterval() time.Duration {
	return parseDuration(r.Interval, 30*time.Second)
}

func (r ReconcilerConf) GetErrorBackoff() time.Duration {
	return parseDuration(r.ErrorBackoff, 60*time.Second)
}

func (c CacheConf) GetSweepInterval() time.Duration {
	return parseDuration(c.SweepInterval, time.Minute)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
