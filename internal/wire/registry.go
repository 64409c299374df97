package wire

import (
	"fmt"
	"sync"
)

// CodecFactory constructs a Codec. Registered by an external collaborator
// package's init() (spec §1: RFC 5444 framing itself is out of scope here),
// analogous to database/sql.Register or image.RegisterFormat — a build-time
// hook, not the dynamic plugin loading spec §7 excludes.
type CodecFactory func() (Codec, error)

var (
	codecsMu sync.Mutex
	codecs   = map[string]CodecFactory{}
)

// RegisterCodec makes factory available under name for LookupCodec. Panics
// on a duplicate name or a nil factory, matching database/sql.Register's
// fail-fast-at-init-time contract.
func RegisterCodec(name string, factory CodecFactory) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	if factory == nil {
		panic("wire: RegisterCodec factory is nil")
	}
	if _, dup := codecs[name]; dup {
		panic("wire: RegisterCodec called twice for codec " + name)
	}
	codecs[name] = factory
}

// LookupCodec constructs the codec registered under name. Callers (cmd/
// meshrtrd's run command) surface the returned error as an actionable
// "no RFC 5444 codec linked into this build" message when name was never
// registered.
func LookupCodec(name string) (Codec, error) {
	codecsMu.Lock()
	factory, ok := codecs[name]
	codecsMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("wire: no codec registered under %q (blank-import the package that calls wire.RegisterCodec)", name)
	}
	return factory()
}
