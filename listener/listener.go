package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/plugdns/plugdns/adapter"
	"github.com/plugdns/plugdns/log"
	"github.com/plugdns/plugdns/utils"
)

type Options struct {
	Tag         string
	Type        string
	DealTimeout time.Duration
	Chain       string

	UDPOptions *UDPListenerOptions
	TCPOptions *TCPListenerOptions
}

type _Options struct {
	Tag         string         `yaml:"tag"`
	Type        string         `yaml:"type"`
	DealTimeout utils.Duration `yaml:"deal-timeout"`
	Chain       string         `yaml:"chain"`
}

func (o *Options) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var _o _Options
	err := unmarshal(&_o)
	if err != nil {
		return err
	}
	var data any
	switch _o.Type {
	case UDPListenerType:
		o.UDPOptions = &UDPListenerOptions{}
		data = o.UDPOptions
	case TCPListenerType:
		o.TCPOptions = &TCPListenerOptions{}
		data = o.TCPOptions
	default:
		return fmt.Errorf("unknown listener type: %s", _o.Type)
	}
	err = unmarshal(data)
	if err != nil {
		return err
	}
	o.Type = _o.Type
	o.Tag = _o.Tag
	o.DealTimeout = time.Duration(_o.DealTimeout)
	o.Chain = _o.Chain
	return nil
}

func NewListener(ctx context.Context, core adapter.Core, logger log.Logger, tag string, options Options) (adapter.Listener, error) {
	dealTimeout := options.DealTimeout
	if dealTimeout <= 0 {
		dealTimeout = DefaultDealTimeout
	}
	switch options.Type {
	case UDPListenerType:
		return NewUDPListener(ctx, core, logger, tag, *options.UDPOptions, options.Chain, dealTimeout)
	case TCPListenerType:
		return NewTCPListener(ctx, core, logger, tag, *options.TCPOptions, options.Chain, dealTimeout)
	default:
		return nil, fmt.Errorf("unknown listener type: %s", options.Type)
	}
}
