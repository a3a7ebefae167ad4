// Package thing declares two small fixed-size structs: Thing, and ThingMsg
// which carries a nested array.
package thing

import (
	_ "embed"
	"fmt"

	"github.com/pithecene-io/bitwire/codec"
	"github.com/pithecene-io/bitwire/shape"
)

//go:embed thing.toml
var schemaTOML []byte

// Fixed byte sizes.
const (
	SizeThing    = 4
	SizeThingMsg = 6
)

var (
	registry      = mustLoad()
	thingCodec    = codec.MustCompile(registry.MustLookup("Thing"), codec.WithOrder(registry.BitOrder))
	thingMsgCodec = codec.MustCompile(registry.MustLookup("ThingMsg"), codec.WithOrder(registry.BitOrder))
)

func mustLoad() *shape.Registry {
	reg, err := shape.LoadBytes(schemaTOML, shape.FormatTOML)
	if err != nil {
		panic(fmt.Sprintf("thing: embedded schema: %v", err))
	}
	return reg
}

func init() {
	if thingCodec.Size() != SizeThing || thingMsgCodec.Size() != SizeThingMsg {
		panic(fmt.Sprintf("thing: sizes %d/%d drifted from declared %d/%d",
			thingCodec.Size(), thingMsgCodec.Size(), SizeThing, SizeThingMsg))
	}
}

// Registry returns the loaded schema.
func Registry() *shape.Registry { return registry }

// Thing is a point with an 8-bit x and y and a signed 16-bit z.
type Thing struct {
	X uint8 `bitwire:"x"`
	Y uint8 `bitwire:"y"`
	Z int16 `bitwire:"z"`
}

// ThingMsg asks for a Thing built from Pair, optionally swapped, with Z
// moved by Delta.
type ThingMsg struct {
	Pair  [2]int8 `bitwire:"pair"`
	Swap  uint8   `bitwire:"swap"`
	Delta uint8   `bitwire:"delta"`
	Z     int16   `bitwire:"z"`
}

// PackThing packs t into SizeThing bytes.
func PackThing(t Thing) ([]byte, error) { return thingCodec.Pack(t) }

// UnpackThing decodes SizeThing bytes.
func UnpackThing(buf []byte) (Thing, error) {
	var t Thing
	err := unpackInto(thingCodec, buf, &t)
	return t, err
}

// PackThingMsg packs m into SizeThingMsg bytes.
func PackThingMsg(m ThingMsg) ([]byte, error) { return thingMsgCodec.Pack(m) }

// UnpackThingMsg decodes SizeThingMsg bytes.
func UnpackThingMsg(buf []byte) (ThingMsg, error) {
	var m ThingMsg
	err := unpackInto(thingMsgCodec, buf, &m)
	return m, err
}

func unpackInto(c *codec.Codec, buf []byte, out any) error {
	v, err := c.Unpack(buf)
	if err != nil {
		return err
	}
	return codec.Bind(v, out)
}

// Transform builds the Thing a message asks for. Pair elements are
// reinterpreted as unsigned bytes.
func Transform(m ThingMsg) Thing {
	t := Thing{X: uint8(m.Pair[0]), Y: uint8(m.Pair[1]), Z: m.Z + int16(m.Delta)}
	if m.Swap != 0 {
		t.X, t.Y = t.Y, t.X
	}
	return t
}

// Handle unpacks a ThingMsg, transforms it and packs the resulting Thing.
func Handle(in []byte) ([]byte, error) {
	m, err := UnpackThingMsg(in)
	if err != nil {
		return nil, err
	}
	return PackThing(Transform(m))
}
