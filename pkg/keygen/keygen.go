package keygen

import (
	"github.com/google/uuid"
	"go.uber.org/fx"
)

var Module = fx.Module("keygen",
	fx.Provide(NewUUIDGenerator),
)

// Generator produces the opaque, unguessable values handed to customers as
// license keys. Values are unique, generated once, and never parsed.
type Generator interface {
	NewLicenseKey() string
}

type UUIDGenerator struct{}

func NewUUIDGenerator() Generator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) NewLicenseKey() string {
	return uuid.NewString()
}
