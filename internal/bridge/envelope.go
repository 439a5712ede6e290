package bridge

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// envelope is the unit crossing the boundary. Requests and replies carry the
// request ID; events carry ID 0.
type envelope struct {
	ID    uint64          `cbor:"1,keyasint,omitempty"`
	Type  string          `cbor:"2,keyasint,omitempty"`
	Data  cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	Error string          `cbor:"4,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("bridge: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("bridge: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with core deterministic encoding
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func encodeData(v any) (cbor.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return Marshal(v)
}
