package synth

// DecimalToBinary decomposes value into buf, least significant bit
// first.  buf is zeroed first, so bits above the highest set bit of
// value stay 0; bits beyond len(buf) are dropped.
func DecimalToBinary(value uint64, buf []uint8) {
	clear(buf)
	for i := 0; value > 0 && i < len(buf); i++ {
		buf[i] = uint8(value % 2)
		value /= 2
	}
}
