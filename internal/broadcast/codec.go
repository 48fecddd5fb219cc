package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"auction-engine/internal/models"
)

const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// Codec encodes events for external sinks
type Codec interface {
	ContentType() string
	Encode(event models.AuctionEvent) ([]byte, error)
}

// NewCodec returns the codec for format ("json" or "cbor")
func NewCodec(format string) (Codec, error) {
	switch format {
	case "", FormatJSON:
		return jsonCodec{}, nil
	case FormatCBOR:
		mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
		if err != nil {
			return nil, fmt.Errorf("broadcast: cbor encoder: %w", err)
		}
		return cborCodec{mode: mode}, nil
	}
	return nil, fmt.Errorf("broadcast: unknown event format %q", format)
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Encode(event models.AuctionEvent) ([]byte, error) {
	return json.Marshal(event)
}

type cborCodec struct {
	mode cbor.EncMode
}

func (cborCodec) ContentType() string { return "application/cbor" }

func (c cborCodec) Encode(event models.AuctionEvent) ([]byte, error) {
	return c.mode.Marshal(event)
}
