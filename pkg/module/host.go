package module

import (
	"context"

	"github.com/taforever/ircd-toxicity/pkg/mtag"
)

type ClientKind int

const (
	KindUser ClientKind = iota
	KindServer
	KindService
)

func (k ClientKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindServer:
		return "server"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// Client is the sender of a message as the host describes it.
type Client struct {
	Name string
	Kind ClientKind
}

// IsUser reports whether c is a connected end user rather than a server or service.
func (c *Client) IsUser() bool {
	return c != nil && c.Kind == KindUser
}

type Channel struct {
	Name string
}

type SendType int

const (
	SendTypePrivmsg SendType = iota
	SendTypeNotice
	SendTypeTagmsg
)

func (s SendType) String() string {
	switch s {
	case SendTypePrivmsg:
		return "PRIVMSG"
	case SendTypeNotice:
		return "NOTICE"
	case SendTypeTagmsg:
		return "TAGMSG"
	default:
		return "UNKNOWN"
	}
}

type HookResult int

const (
	Continue HookResult = iota
	Veto
)

// PreChannelMessageHook runs before the host relays a channel message. tags
// may be mutated during the call and must not be retained.
type PreChannelMessageHook func(ctx context.Context, sender *Client, channel *Channel, tags *mtag.List, text string, sendType SendType) HookResult

// Host is the IRC server daemon the module is loaded into.
type Host interface {
	RegisterTagHandler(handler mtag.Handler) error
	RegisterPreChannelMessageHook(hook PreChannelMessageHook) error
}
