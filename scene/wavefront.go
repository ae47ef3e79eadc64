// Package scene loads triangle soups for acceleration structure
// builds. Only the wavefront object subset needed for geometry is
// supported: vertices, faces and group/object statements, which map
// to geometry ids.
package scene

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rayforge/rayforge/bvh"
	"github.com/rayforge/rayforge/log"
	"github.com/rayforge/rayforge/types"
)

type wavefrontReader struct {
	logger log.Logger

	vertexList []types.Vec3
	triangles  []bvh.Triangle

	// Geometry id of the group being parsed. Bumped on group/object
	// statements once the current group holds any faces.
	geometryID   uint32
	facesInGroup int

	opaque bool
}

// ReadWavefrontFile parses the wavefront object file at path.
func ReadWavefrontFile(path string) ([]bvh.Triangle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "wavefront: open %s", path)
	}
	defer f.Close()
	return ReadWavefront(f)
}

// ReadWavefront parses a wavefront object stream into a triangle
// soup. Faces with more than three corners are triangulated as fans.
func ReadWavefront(r io.Reader) ([]bvh.Triangle, error) {
	w := &wavefrontReader{
		logger: log.New("wavefront"),
		opaque: true,
	}

	start := time.Now()
	if err := w.parse(r); err != nil {
		return nil, err
	}
	if len(w.triangles) == 0 {
		return nil, errors.New("wavefront: no faces defined")
	}
	w.logger.Debugf("parsed %d triangles in %d geometries in %d ms",
		len(w.triangles), w.geometryID+1, time.Since(start).Nanoseconds()/1e6)
	return w.triangles, nil
}

func (w *wavefrontReader) parse(r io.Reader) error {
	var lineNum int

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		var err error
		switch lineTokens[0] {
		case "v":
			err = w.parseVertex(lineTokens)
		case "f":
			err = w.parseFace(lineTokens)
		case "g", "o":
			if w.facesInGroup > 0 {
				w.geometryID++
				w.facesInGroup = 0
			}
		}
		if err != nil {
			return errors.Wrapf(err, "wavefront: [line %d]", lineNum)
		}
	}
	return scanner.Err()
}

func (w *wavefrontReader) parseVertex(tokens []string) error {
	if len(tokens) < 4 {
		return errors.Errorf("unsupported syntax for %q; expected 3 coordinates, got %d", tokens[0], len(tokens)-1)
	}

	var v types.Vec3
	for i := 0; i < 3; i++ {
		val, err := strconv.ParseFloat(tokens[i+1], 32)
		if err != nil {
			return errors.Wrapf(err, "invalid coordinate %q", tokens[i+1])
		}
		v[i] = float32(val)
	}
	w.vertexList = append(w.vertexList, v)
	return nil
}

func (w *wavefrontReader) parseFace(tokens []string) error {
	if len(tokens) < 4 {
		return errors.Errorf("face needs at least 3 vertices, got %d", len(tokens)-1)
	}

	corners := make([]types.Vec3, len(tokens)-1)
	for i, token := range tokens[1:] {
		// Only the vertex index of a v/vt/vn reference is used.
		index, err := strconv.ParseInt(strings.SplitN(token, "/", 2)[0], 10, 32)
		if err != nil {
			return errors.Wrapf(err, "invalid vertex reference %q", token)
		}
		// Negative indices count back from the most recent vertex.
		if index < 0 {
			index += int64(len(w.vertexList)) + 1
		}
		if index < 1 || index > int64(len(w.vertexList)) {
			return errors.Errorf("vertex reference %q out of range", token)
		}
		corners[i] = w.vertexList[index-1]
	}

	for i := 1; i+1 < len(corners); i++ {
		w.triangles = append(w.triangles, bvh.Triangle{
			V0:         corners[0],
			V1:         corners[i],
			V2:         corners[i+1],
			TriangleID: uint32(len(w.triangles)),
			GeometryID: w.geometryID,
			Opaque:     w.opaque,
		})
		w.facesInGroup++
	}
	return nil
}
