package objectstore

// ClientOption configures Client.
type ClientOption func(*ClientConfig)

// ClientConfig holds S3-compatible storage settings.
type ClientConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	Bucket       string
	UseSSL       bool
	CreateBucket bool
}

// WithEndpoint sets the host:port of the storage service.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *ClientConfig) {
		c.Endpoint = endpoint
	}
}

// WithCredentials sets static access credentials.
func WithCredentials(accessKey, secretKey string) ClientOption {
	return func(c *ClientConfig) {
		c.AccessKey = accessKey
		c.SecretKey = secretKey
	}
}

// WithRegion sets the bucket region.
func WithRegion(region string) ClientOption {
	return func(c *ClientConfig) {
		c.Region = region
	}
}

// WithBucket sets the target bucket.
func WithBucket(bucket string) ClientOption {
	return func(c *ClientConfig) {
		c.Bucket = bucket
	}
}

// WithSSL toggles HTTPS.
func WithSSL(on bool) ClientOption {
	return func(c *ClientConfig) {
		c.UseSSL = on
	}
}

// WithCreateBucket creates the bucket on startup when missing.
func WithCreateBucket(on bool) ClientOption {
	return func(c *ClientConfig) {
		c.CreateBucket = on
	}
}
