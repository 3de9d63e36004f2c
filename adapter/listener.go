package adapter

type Listener interface {
	Tag() string
	Type() string
	ChainTag() string
}
