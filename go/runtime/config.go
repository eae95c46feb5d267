// Package runtime wires configuration into an assembled uploader
// service.
package runtime

import (
	mbp "go.gazette.dev/core/mainboilerplate"
)

// UploaderConfig configures the data-uploader application.
type UploaderConfig struct {
	Uploader struct {
		Port                 uint16 `long:"port" env:"PORT" default:"8080" description:"HTTP listen port"`
		Bucket               string `long:"bucket" env:"BUCKET" required:"true" description:"Object-store bucket of dataset editions"`
		Region               string `long:"region" env:"AWS_REGION" required:"true" description:"AWS region of the bucket, tables, and queue"`
		MetadataAPIURL       string `long:"metadata-api-url" env:"METADATA_API_URL" required:"true" description:"Base URL of the metadata service"`
		StatusAPIURL         string `long:"status-api-url" env:"STATUS_API_URL" required:"true" description:"Endpoint of the status API"`
		EmailAPIURL          string `long:"email-api-url" env:"EMAIL_API_URL" required:"true" description:"Endpoint of the email gateway"`
		AuthorizerAPIURL     string `long:"authorizer-api-url" env:"AUTHORIZER_API" required:"true" description:"Base URL of the resource authorizer"`
		EventQueueName       string `long:"event-queue-name" env:"EVENT_QUEUE_NAME" required:"true" description:"Name of the FIFO event queue"`
		EnableAuth           string `long:"enable-auth" env:"ENABLE_AUTH" default:"true" choice:"true" choice:"false" description:"Enforce caller authorization"`
		EmailAPIKeyParameter string `long:"email-api-key-parameter" env:"EMAIL_API_KEY_PARAMETER" default:"/dataplatform/shared/email-api-key" description:"SSM parameter holding the email API key"`
		MetadataToken        string `long:"metadata-token" env:"METADATA_API_TOKEN" description:"Bearer token for metadata service writes"`
	} `group:"Uploader" namespace:"uploader"`

	Lock struct {
		Retries     int `long:"retries" env:"LOCK_RETRIES" default:"5" description:"Write-lock acquisition attempts"`
		WaitSeconds int `long:"wait-seconds" env:"LOCK_WAIT_SECONDS" default:"5" description:"Seconds between lock attempts"`
	} `group:"Lock" namespace:"lock"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}
