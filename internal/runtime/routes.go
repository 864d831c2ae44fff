package runtime

import (
	"context"
	"fmt"

	containerpkg "github.com/drblury/tcpflow/internal/runtime/container"
	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
	"github.com/drblury/tcpflow/internal/runtime/router"
)

// Handle routes action to the method fn of handler type H. The last
// registration for an action wins.
func Handle[H any, M any](svc *Service, action int, method string, fn func(H, context.Context, M) (*router.Reply, error), opts ...router.Option) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	entry, err := router.NewRoute(action, method, fn, opts...)
	if err != nil {
		return err
	}
	return svc.RegisterRoute(action, entry)
}

// RegisterHandler binds the factory of handler type H in the service's
// default container.
func RegisterHandler[H any](svc *Service, factory func(ctx context.Context, scope containerpkg.Scope) (H, error)) error {
	c, err := defaultContainer(svc)
	if err != nil {
		return err
	}
	return containerpkg.Register(c, factory)
}

// ConfigureMethod sets the transaction and injection keywords of
// H.method in the service's default container.
func ConfigureMethod[H any](svc *Service, method string, opts containerpkg.MethodOptions) error {
	c, err := defaultContainer(svc)
	if err != nil {
		return err
	}
	c.Configure(router.HandlerName[H](), method, opts)
	return nil
}

func defaultContainer(svc *Service) (*containerpkg.Container, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	c, ok := svc.container.(*containerpkg.Container)
	if !ok {
		return nil, errspkg.NewConfigurationError(fmt.Errorf("tcpflow: service uses a custom container %T", svc.container))
	}
	return c, nil
}
