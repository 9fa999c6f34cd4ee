package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
)

func _colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}

	r, g, b := pt.RGB255()
	x := 0

	x |= (int(r) << 16)
	x |= (int(g) << 8)
	x |= (int(b) << 0)
	return x
}

func _pcdIntToColor(c int) (uint8, uint8, uint8) {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return r, g, b
}

// ToPCD writes the cloud in PCD format. Positions are written in meters per
// the PCD convention; normals and colors are carried when the cloud has them.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	var err error

	_, err = fmt.Fprintf(out, "VERSION .7\n")
	if err != nil {
		return err
	}
	meta := cloud.MetaData()
	fields := []string{"x", "y", "z"}
	if meta.HasNormal {
		fields = append(fields, "normal_x", "normal_y", "normal_z")
	}
	if meta.HasColor {
		fields = append(fields, "rgb")
	}
	sizes := make([]string, len(fields))
	types := make([]string, len(fields))
	counts := make([]string, len(fields))
	for i, f := range fields {
		sizes[i] = "4"
		counts[i] = "1"
		if f == "rgb" {
			types[i] = "I"
		} else {
			types[i] = "F"
		}
	}
	_, err = fmt.Fprintf(out, "FIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\n",
		strings.Join(fields, " "),
		strings.Join(sizes, " "),
		strings.Join(types, " "),
		strings.Join(counts, " "))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	default:
		return errors.Errorf("unknown pcd type %d", outputType)
	}
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType)
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType) error {
	meta := cloud.MetaData()
	var iterErr error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		// mm -> meters on disk
		vals := []float64{pos.X / 1000., pos.Y / 1000., pos.Z / 1000.}
		if meta.HasNormal {
			var n r3.Vector
			if d != nil && d.HasNormal() {
				n = d.Normal()
			}
			vals = append(vals, n.X, n.Y, n.Z)
		}

		var err error
		switch pcdtype {
		case PCDBinary:
			buf := make([]byte, 0, 4*(len(vals)+1))
			for _, v := range vals {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(v)))
			}
			if meta.HasColor {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(_colorToPCDInt(d)))
			}
			_, err = out.Write(buf)
		case PCDAscii:
			strs := make([]string, 0, len(vals)+1)
			for _, v := range vals {
				strs = append(strs, strconv.FormatFloat(v, 'f', -1, 32))
			}
			if meta.HasColor {
				strs = append(strs, strconv.Itoa(_colorToPCDInt(d)))
			}
			_, err = fmt.Fprintln(out, strings.Join(strs, " "))
		}
		if err != nil {
			iterErr = err
			return false
		}
		return true
	})
	return iterErr
}

type pcdHeader struct {
	fields []string
	points int
	data   string
}

func readPCDHeader(in *bufio.Reader) (*pcdHeader, error) {
	header := &pcdHeader{}
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading pcd header")
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens := strings.Fields(line)
		switch tokens[0] {
		case "FIELDS":
			header.fields = tokens[1:]
		case "POINTS":
			header.points, err = strconv.Atoi(tokens[1])
			if err != nil {
				return nil, errors.Wrap(err, "parsing POINTS")
			}
		case "DATA":
			header.data = tokens[1]
			return header, nil
		}
	}
}

// ReadPCD reads a PCD written by ToPCD back into a PointCloud. Only the field
// layouts ToPCD produces are supported.
func ReadPCD(in io.Reader) (PointCloud, error) {
	buffered := bufio.NewReader(in)
	header, err := readPCDHeader(buffered)
	if err != nil {
		return nil, err
	}

	fieldIdx := make(map[string]int, len(header.fields))
	for i, f := range header.fields {
		fieldIdx[f] = i
	}
	if _, ok := fieldIdx["x"]; !ok {
		return nil, errors.Errorf("unsupported pcd fields %v", header.fields)
	}
	_, hasNormal := fieldIdx["normal_x"]
	_, hasColor := fieldIdx["rgb"]

	cloud := NewWithPrealloc(header.points)
	for i := 0; i < header.points; i++ {
		raw := make([]uint32, len(header.fields))
		switch header.data {
		case "ascii":
			line, err := buffered.ReadString('\n')
			if err != nil {
				return nil, errors.Wrapf(err, "reading pcd point %d", i)
			}
			tokens := strings.Fields(line)
			if len(tokens) != len(header.fields) {
				return nil, errors.Errorf("pcd point %d has %d fields, want %d", i, len(tokens), len(header.fields))
			}
			for j, tok := range tokens {
				if header.fields[j] == "rgb" {
					c, err := strconv.Atoi(tok)
					if err != nil {
						return nil, errors.Wrapf(err, "parsing pcd point %d", i)
					}
					raw[j] = uint32(c)
				} else {
					f, err := strconv.ParseFloat(tok, 32)
					if err != nil {
						return nil, errors.Wrapf(err, "parsing pcd point %d", i)
					}
					raw[j] = math.Float32bits(float32(f))
				}
			}
		case "binary":
			buf := make([]byte, 4*len(header.fields))
			if _, err := io.ReadFull(buffered, buf); err != nil {
				return nil, errors.Wrapf(err, "reading pcd point %d", i)
			}
			for j := range raw {
				raw[j] = binary.LittleEndian.Uint32(buf[4*j:])
			}
		default:
			return nil, errors.Errorf("unsupported pcd data encoding %q", header.data)
		}

		fl := func(name string) float64 {
			return float64(math.Float32frombits(raw[fieldIdx[name]]))
		}
		// meters on disk -> mm
		pos := r3.Vector{X: fl("x") * 1000., Y: fl("y") * 1000., Z: fl("z") * 1000.}
		var d Data
		if hasNormal {
			n := r3.Vector{X: fl("normal_x"), Y: fl("normal_y"), Z: fl("normal_z")}
			if n.Norm() > 0 {
				d = NewNormalData(n)
			}
		}
		if hasColor {
			r, g, b := _pcdIntToColor(int(raw[fieldIdx["rgb"]]))
			if d == nil {
				d = NewColoredData(nrgba(r, g, b))
			} else {
				d.SetColor(nrgba(r, g, b))
			}
		}
		if err := cloud.Set(pos, d); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}
