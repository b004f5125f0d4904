package duplicator

import (
	"log/slog"

	"github.com/breeze-rmm/deskdupl/internal/buffer"
	"github.com/breeze-rmm/deskdupl/internal/dxgi"
)

// MetaData is an immutable copy of one frame's change rects. Move rects
// occupy [0, MoveRectSize) and dirty rects follow immediately after.
type MetaData struct {
	data          []byte
	MoveRectSize  int
	DirtyRectSize int
}

// Bytes returns the packed move and dirty rects.
func (m MetaData) Bytes() []byte {
	return m.data
}

// MoveRects decodes the move rect section.
func (m MetaData) MoveRects() []dxgi.MoveRect {
	return dxgi.ParseMoveRects(m.data[:m.MoveRectSize])
}

// DirtyRects decodes the dirty rect section.
func (m MetaData) DirtyRects() []dxgi.Rect {
	return dxgi.ParseDirtyRects(m.data[m.MoveRectSize : m.MoveRectSize+m.DirtyRectSize])
}

// metaData is the engine's reusable staging area. The buffer only grows.
type metaData struct {
	buf       *buffer.Buffer
	moveSize  int
	dirtySize int
}

func newMetaData() *metaData {
	return &metaData{buf: &buffer.Buffer{}}
}

// update fetches this frame's rects. Failures are logged and record a size
// of zero for the affected section; they never change engine state.
func (m *metaData) update(dupl dxgi.OutputDuplication, info dxgi.FrameInfo, logger *slog.Logger) {
	m.moveSize, m.dirtySize = 0, 0
	total := int(info.TotalMetadataBufferSize)
	if total == 0 {
		return
	}
	m.buf.ExpandIfNeeded(total)

	n, err := dupl.GetFrameMoveRects(m.buf.Bytes())
	if err != nil {
		logFetchError(logger, "GetFrameMoveRects", err, total)
	} else {
		m.moveSize = n
	}

	n, err = dupl.GetFrameDirtyRects(m.buf.From(m.moveSize))
	if err != nil {
		logFetchError(logger, "GetFrameDirtyRects", err, total)
	} else {
		m.dirtySize = n
	}
}

// snapshot copies the used bytes so the frame outlives the next cycle.
func (m *metaData) snapshot() MetaData {
	used := m.moveSize + m.dirtySize
	data := m.buf.Range(0, used)
	if data == nil {
		data = []byte{}
	}
	return MetaData{data: data, MoveRectSize: m.moveSize, DirtyRectSize: m.dirtySize}
}

func logFetchError(logger *slog.Logger, op string, err error, total int) {
	hr, _ := dxgi.Code(err)
	switch hr {
	case dxgi.ErrAccessLost:
		logger.Info(op+": access lost, next acquire will report it", "error", err)
	case dxgi.ErrMoreData:
		logger.Error(op+": buffer smaller than reported metadata size", "bufferSize", total, "error", err)
	default:
		logger.Error(op+" failed", "error", err)
	}
}
