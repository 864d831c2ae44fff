// Package pipes registers every built-in pipe backend with the default
// registry.
package pipes

import (
	_ "github.com/drblury/tcpflow/pipe/aws"
	_ "github.com/drblury/tcpflow/pipe/channel"
	_ "github.com/drblury/tcpflow/pipe/http"
	_ "github.com/drblury/tcpflow/pipe/kafka"
	_ "github.com/drblury/tcpflow/pipe/nats"
	_ "github.com/drblury/tcpflow/pipe/rabbitmq"
)
