package config

import (
	"fmt"
	"strings"
	"time"
)

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment   string
	Addr          string
	LogLevel      string
	AWSRegion     string
	AccountID     string
	DatabaseURL   string
	MigrationsDir string

	ConversationStore string
	ConversationTable string
	ChatModelID       string
	ChatHistoryLimit  int
	ChatMaxTokens     int
	ChatTemperature   float64
	ChatTopP          float64

	StackName         string
	StackTemplateURL  string
	StackModelParam   string
	DeployPollInitial time.Duration
	DeployPollMax     time.Duration
	DeployTimeout     time.Duration
	// DeployMaxSelfHeals bounds delete-and-recreate cycles after a failed apply. 0 disables them.
	DeployMaxSelfHeals int

	TrainingBucket     string
	BaseModelID        string
	TrainingRoleARN    string
	CustomModelPrefix  string
	JobVisibilityGrace time.Duration

	EvalKeywords  []string
	EvalPassRatio float64

	OperatorJWTSecret  string
	OperatorTokenTTL   time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// DefaultEvalKeywords are the domain terms a relevant evaluation answer mentions.
var DefaultEvalKeywords = []string{"allegiant", "vegas", "flight", "stadium", "strip"}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	account := strings.TrimSpace(GetString("AWS_ACCOUNT_ID", ""))
	bucket := GetString("TRAINING_BUCKET", "")
	if bucket == "" && account != "" {
		bucket = TrainingBucketName(account)
	}
	templateURL := GetString("STACK_TEMPLATE_URL", "")
	if templateURL == "" && bucket != "" {
		templateURL = fmt.Sprintf("https://s3.amazonaws.com/%s/template.yml", bucket)
	}
	roleARN := GetString("TRAINING_ROLE_ARN", "")
	if roleARN == "" && account != "" {
		roleARN = fmt.Sprintf("arn:aws:iam::%s:role/BedrockFineTuningRole", account)
	}

	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		LogLevel:      GetString("LOG_LEVEL", "info"),
		AWSRegion:     GetString("AWS_REGION", "us-east-1"),
		AccountID:     account,
		DatabaseURL:   GetString("DATABASE_URL", ""),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", ""),

		ConversationStore: GetString("CONVERSATION_STORE", "dynamodb"),
		ConversationTable: GetString("CONVERSATION_TABLE", "ConversationHistory"),
		ChatModelID:       GetString("MODEL_ID", "amazon.titan-text-express-v1"),
		ChatHistoryLimit:  GetInt("CHAT_HISTORY_LIMIT", 10),
		ChatMaxTokens:     GetInt("CHAT_MAX_TOKENS", 512),
		ChatTemperature:   GetFloat("CHAT_TEMPERATURE", 0.7),
		ChatTopP:          GetFloat("CHAT_TOP_P", 0.9),

		StackName:          GetString("STACK_NAME", "llm-chat-stack"),
		StackTemplateURL:   templateURL,
		StackModelParam:    GetString("STACK_MODEL_PARAMETER", "ModelId"),
		DeployPollInitial:  time.Duration(GetInt("DEPLOY_POLL_INITIAL_SECONDS", 2)) * time.Second,
		DeployPollMax:      time.Duration(GetInt("DEPLOY_POLL_MAX_SECONDS", 30)) * time.Second,
		DeployTimeout:      time.Duration(GetInt("DEPLOY_TIMEOUT_SECONDS", 1200)) * time.Second,
		DeployMaxSelfHeals: GetInt("DEPLOY_MAX_SELF_HEALS", 1),

		TrainingBucket:     bucket,
		BaseModelID:        GetString("BASE_MODEL_ID", "amazon.titan-text-express-v1"),
		TrainingRoleARN:    roleARN,
		CustomModelPrefix:  GetString("CUSTOM_MODEL_PREFIX", "allegiant-vegas-model"),
		JobVisibilityGrace: time.Duration(GetInt("JOB_VISIBILITY_GRACE_SECONDS", 300)) * time.Second,

		EvalKeywords:  GetList("EVAL_KEYWORDS", DefaultEvalKeywords),
		EvalPassRatio: GetFloat("EVAL_PASS_RATIO", 0.8),

		OperatorJWTSecret:  GetString("OPERATOR_JWT_SECRET", ""),
		OperatorTokenTTL:   time.Duration(GetInt("OPERATOR_TOKEN_TTL_HOURS", 12)) * time.Hour,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

// TrainingBucketName returns the per-account bucket holding training data and templates.
func TrainingBucketName(accountID string) string {
	return "llm-training-data-" + strings.TrimSpace(accountID)
}
