package pipe

// StaticConfig is a plain Config for callers that do not use the service
// config, such as tests or standalone monitor collectors.
type StaticConfig struct {
	Name               string
	PubSubSystem       string
	KafkaBrokers       []string
	KafkaConsumerGroup string
	RabbitMQURL        string
	NATSURL            string
	HTTPServerAddress  string
	HTTPPublisherURL   string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c StaticConfig) GetName() string               { return c.Name }
func (c StaticConfig) GetPubSubSystem() string       { return c.PubSubSystem }
func (c StaticConfig) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c StaticConfig) GetKafkaConsumerGroup() string { return c.KafkaConsumerGroup }
func (c StaticConfig) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c StaticConfig) GetNATSURL() string            { return c.NATSURL }
func (c StaticConfig) GetHTTPServerAddress() string  { return c.HTTPServerAddress }
func (c StaticConfig) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c StaticConfig) GetAWSRegion() string          { return c.AWSRegion }
func (c StaticConfig) GetAWSAccountID() string       { return c.AWSAccountID }
func (c StaticConfig) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c StaticConfig) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c StaticConfig) GetAWSEndpoint() string        { return c.AWSEndpoint }
