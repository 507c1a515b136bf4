package recorder

import (
	"fmt"
	"os"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/format/mp4"
	"github.com/pkg/errors"
)

// Stream describes one track of a finished recording.
type Stream struct {
	Type   av.CodecType
	Width  int
	Height int
}

func (st Stream) String() string {
	if st.Width > 0 {
		return fmt.Sprintf("%v %dx%d", st.Type, st.Width, st.Height)
	}
	return st.Type.String()
}

// Probe opens an mp4 file and lists its streams.
func Probe(filename string) ([]Stream, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	codecs, err := mp4.NewDemuxer(file).Streams()
	if err != nil {
		return nil, errors.Wrapf(err, "demux %s", filename)
	}

	var streams []Stream
	for _, codec := range codecs {
		st := Stream{Type: codec.Type()}
		if info, ok := codec.(av.VideoCodecData); ok {
			st.Width = info.Width()
			st.Height = info.Height()
		}
		streams = append(streams, st)
	}
	return streams, nil
}
