package grid

import (
	"io"
	"math"
	"runtime"
	"strconv"
)

// AppendText appends the textual form of g to dst: one line per row,
// elements separated by ", " and every row terminated by '\n'. Values use
// the shortest decimal that round-trips, never an exponent. Infinities are
// written as inf and -inf.
func (g *Grid) AppendText(dst []byte) ([]byte, error) {
	if g.Closed() {
		return dst, ErrClosed
	}
	for i := 0; i < g.rows; i++ {
		for j := 0; j < g.cols; j++ {
			if j > 0 {
				dst = append(dst, ", "...)
			}
			dst = appendValue(dst, g.lib.At(g.h, i, j))
		}
		dst = append(dst, '\n')
	}
	runtime.KeepAlive(g)
	return dst, nil
}

func appendValue(dst []byte, v float64) []byte {
	switch {
	case math.IsInf(v, 1):
		return append(dst, "inf"...)
	case math.IsInf(v, -1):
		return append(dst, "-inf"...)
	}
	return strconv.AppendFloat(dst, v, 'f', -1, 64)
}

// Render writes the textual form of g to w.
func (g *Grid) Render(w io.Writer) error {
	buf, err := g.AppendText(nil)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func (g *Grid) String() string {
	buf, err := g.AppendText(nil)
	if err != nil {
		return "<closed grid>"
	}
	return string(buf)
}
