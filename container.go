package auth

// Container is the Provider, SessionManager and Client triple of one
// deployment target. Build it once at the application root and pass the
// Client down. UI code must only use Client.
type Container struct {
	Provider Provider
	Session  *SessionManager
	Client   *Client
}

// ContainerOption customizes container construction
type ContainerOption func(*containerOptions)

type containerOptions struct {
	session []SessionManagerOption
	client  []ClientOption
}

// WithSessionOptions forwards options to the SessionManager
func WithSessionOptions(opts ...SessionManagerOption) ContainerOption {
	return func(o *containerOptions) {
		o.session = append(o.session, opts...)
	}
}

// WithClientOptions forwards options to the Client
func WithClientOptions(opts ...ClientOption) ContainerOption {
	return func(o *containerOptions) {
		o.client = append(o.client, opts...)
	}
}

// WithLogger sets the logger of both the SessionManager and the Client
func WithLogger(logger Logger) ContainerOption {
	return func(o *containerOptions) {
		o.session = append(o.session, WithSessionLogger(logger))
		o.client = append(o.client, WithClientLogger(logger))
	}
}

// NewContainer wires provider into a fresh SessionManager and Client.
func NewContainer(provider Provider, opts ...ContainerOption) *Container {
	options := &containerOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	session := NewSessionManager(provider, options.session...)
	client := NewClient(provider, session, options.client...)

	return &Container{
		Provider: provider,
		Session:  session,
		Client:   client,
	}
}
