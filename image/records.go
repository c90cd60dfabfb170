package image

import "encoding/binary"

// Record encoders append the little-endian form of a record to dst. The
// decoders expect raw to hold exactly one record of the current size.

func (r AtomRecord) Append(dst []byte) []byte {
	dst = append(dst, byte(r.Kind), r.Pad[0], r.Pad[1], r.Pad[2])
	dst = binary.LittleEndian.AppendUint32(dst, r.Length)
	return binary.LittleEndian.AppendUint64(dst, r.Payload)
}

func DecodeAtomRecord(raw []byte) AtomRecord {
	return AtomRecord{
		Kind:    AtomKind(raw[0]),
		Pad:     [3]byte{raw[1], raw[2], raw[3]},
		Length:  binary.LittleEndian.Uint32(raw[4:8]),
		Payload: binary.LittleEndian.Uint64(raw[8:16]),
	}
}

func (r FunctionRecord) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Name))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(r.MinArgs))
	return binary.LittleEndian.AppendUint16(dst, uint16(r.MaxArgs))
}

func DecodeFunctionRecord(raw []byte) FunctionRecord {
	return FunctionRecord{
		Name:    Ordinal(binary.LittleEndian.Uint32(raw[0:4])),
		MinArgs: int16(binary.LittleEndian.Uint16(raw[4:6])),
		MaxArgs: int16(binary.LittleEndian.Uint16(raw[6:8])),
	}
}

func (r ExpressionRecord) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, uint16(r.Kind))
	dst = binary.LittleEndian.AppendUint16(dst, r.Pad)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Value))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Args))
	return binary.LittleEndian.AppendUint32(dst, uint32(r.Next))
}

func DecodeExpressionRecord(raw []byte) ExpressionRecord {
	return ExpressionRecord{
		Kind:  ExprKind(binary.LittleEndian.Uint16(raw[0:2])),
		Pad:   binary.LittleEndian.Uint16(raw[2:4]),
		Value: Ordinal(binary.LittleEndian.Uint32(raw[4:8])),
		Args:  Ordinal(binary.LittleEndian.Uint32(raw[8:12])),
		Next:  Ordinal(binary.LittleEndian.Uint32(raw[12:16])),
	}
}

func (r DeffunctionRecord) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Name))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(r.MinArgs))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(r.MaxArgs))
	return binary.LittleEndian.AppendUint32(dst, uint32(r.Body))
}

func DecodeDeffunctionRecord(raw []byte) DeffunctionRecord {
	return DeffunctionRecord{
		Name:    Ordinal(binary.LittleEndian.Uint32(raw[0:4])),
		MinArgs: int16(binary.LittleEndian.Uint16(raw[4:6])),
		MaxArgs: int16(binary.LittleEndian.Uint16(raw[6:8])),
		Body:    Ordinal(binary.LittleEndian.Uint32(raw[8:12])),
	}
}

func (r DefglobalRecord) Append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(r.Name))
	return binary.LittleEndian.AppendUint32(dst, uint32(r.Initial))
}

func DecodeDefglobalRecord(raw []byte) DefglobalRecord {
	return DefglobalRecord{
		Name:    Ordinal(binary.LittleEndian.Uint32(raw[0:4])),
		Initial: Ordinal(binary.LittleEndian.Uint32(raw[4:8])),
	}
}
