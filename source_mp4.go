package de265

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Eyevinn/mp4ff/hevc"
	"github.com/Eyevinn/mp4ff/mp4"
)

// mp4Sample is one coded picture of the selected track.
type mp4Sample struct {
	decodeTime uint64
	cto        int32
	data       []byte
}

// MP4Source reads the HEVC track of an MP4 file, fragmented or progressive.
// The parameter sets from the hvcC box are emitted first, then the NAL
// units of every sample. PTS is the sample's presentation time in
// microseconds and UserData the 1-based sample number; the last NAL of a
// sample ends the frame.
type MP4Source struct {
	TrackID   uint32
	Timescale uint32

	queue []Unit
	next  int

	// Fragmented files are parsed up front.
	samples []mp4Sample

	// Progressive files are read one sample at a time.
	r     io.ReadSeeker
	stbl  *mp4.StblBox
	count int

	lengthSize int
}

// NewMP4Source parses r and selects its first hvc1/hev1 video track.
func NewMP4Source(r io.ReadSeeker) (*MP4Source, error) {
	mp4File, err := mp4.DecodeFile(r)
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}

	var moov *mp4.MoovBox
	switch {
	case mp4File.IsFragmented() && mp4File.Init != nil:
		moov = mp4File.Init.Moov
	default:
		moov = mp4File.Moov
	}
	if moov == nil {
		return nil, errors.New("mp4: no moov box found")
	}

	s := &MP4Source{Timescale: 1000, lengthSize: 4}
	trak := s.selectTrack(moov)
	if trak == nil {
		return nil, fmt.Errorf("mp4: no HEVC video track found: %w", ErrNotSupported)
	}

	if mp4File.IsFragmented() {
		if err := s.loadFragments(mp4File, moov); err != nil {
			return nil, err
		}
		return s, nil
	}

	stbl := trak.Mdia.Minf.Stbl
	if stbl.Stsz == nil || stbl.Stsc == nil || (stbl.Stco == nil && stbl.Co64 == nil) {
		return nil, errors.New("mp4: incomplete sample table")
	}
	s.r = r
	s.stbl = stbl
	s.count = int(stbl.Stsz.SampleNumber)
	return s, nil
}

// selectTrack picks the first video track with an HEVC sample entry and
// queues its parameter sets.
func (s *MP4Source) selectTrack(moov *mp4.MoovBox) *mp4.TrakBox {
	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
			continue
		}
		if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
			continue
		}
		hvcx := trak.Mdia.Minf.Stbl.Stsd.HvcX
		if hvcx == nil || hvcx.HvcC == nil {
			continue
		}
		s.TrackID = trak.Tkhd.TrackID
		if trak.Mdia.Mdhd != nil && trak.Mdia.Mdhd.Timescale != 0 {
			s.Timescale = trak.Mdia.Mdhd.Timescale
		}
		rec := hvcx.HvcC.DecConfRec
		s.lengthSize = int(rec.LengthSizeMinusOne) + 1
		for _, t := range []hevc.NaluType{hevc.NALU_VPS, hevc.NALU_SPS, hevc.NALU_PPS} {
			for _, nal := range rec.GetNalusForType(t) {
				s.queue = append(s.queue, Unit{Data: nal, NAL: true})
			}
		}
		return trak
	}
	return nil
}

// loadFragments collects the track's samples from every fragment.
func (s *MP4Source) loadFragments(mp4File *mp4.File, moov *mp4.MoovBox) error {
	var trex *mp4.TrexBox
	if moov.Mvex != nil {
		for _, t := range moov.Mvex.Trexs {
			if t.TrackID == s.TrackID {
				trex = t
				break
			}
		}
	}

	for _, seg := range mp4File.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil {
				continue
			}
			for _, traf := range frag.Moof.Trafs {
				if traf.Tfhd.TrackID != s.TrackID {
					continue
				}
				full, err := frag.GetFullSamples(trex)
				if err != nil {
					return fmt.Errorf("get samples: %w", err)
				}
				for _, fs := range full {
					s.samples = append(s.samples, mp4Sample{
						decodeTime: fs.DecodeTime,
						cto:        fs.CompositionTimeOffset,
						data:       fs.Data,
					})
				}
				break
			}
		}
	}
	s.count = len(s.samples)
	return nil
}

// Samples returns the number of video samples in the file.
func (s *MP4Source) Samples() int { return s.count }

// ReadUnit implements Source.
func (s *MP4Source) ReadUnit(ctx context.Context) (Unit, error) {
	for len(s.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return Unit{}, err
		}
		if s.next >= s.count {
			return Unit{}, io.EOF
		}
		if err := s.expand(s.next); err != nil {
			return Unit{}, err
		}
		s.next++
	}
	u := s.queue[0]
	s.queue = s.queue[1:]
	return u, nil
}

// expand queues the NAL units of sample i.
func (s *MP4Source) expand(i int) error {
	sample, err := s.sample(i)
	if err != nil {
		return fmt.Errorf("sample %d: %w", i+1, err)
	}
	presentation := int64(sample.decodeTime) + int64(sample.cto)
	pts := presentation * 1_000_000 / int64(s.Timescale)

	nals, err := splitLengthPrefixed(sample.data, s.lengthSize)
	if err != nil {
		return fmt.Errorf("sample %d: %w", i+1, err)
	}
	for j, nal := range nals {
		s.queue = append(s.queue, Unit{
			Data:       nal,
			NAL:        true,
			PTS:        pts,
			UserData:   uintptr(i + 1),
			EndOfFrame: j == len(nals)-1,
		})
	}
	return nil
}

// sample returns the 0-based sample i.
func (s *MP4Source) sample(i int) (mp4Sample, error) {
	if s.stbl == nil {
		return s.samples[i], nil
	}

	nr := uint32(i + 1)
	var out mp4Sample
	if s.stbl.Stts != nil {
		out.decodeTime, _ = s.stbl.Stts.GetDecodeTime(nr)
	}
	if s.stbl.Ctts != nil {
		out.cto = s.stbl.Ctts.GetCompositionTimeOffset(nr)
	}
	data, err := readProgressiveSample(s.stbl, s.r, nr)
	if err != nil {
		return out, err
	}
	out.data = data
	return out, nil
}

// readProgressiveSample locates sample nr through stsc/stco/stsz and reads it.
func readProgressiveSample(stbl *mp4.StblBox, r io.ReadSeeker, nr uint32) ([]byte, error) {
	chunkNr, firstSampleInChunk, err := stbl.Stsc.ChunkNrFromSampleNr(int(nr))
	if err != nil {
		return nil, fmt.Errorf("get chunk nr: %w", err)
	}

	var offset uint64
	switch {
	case stbl.Stco != nil:
		if offset, err = stbl.Stco.GetOffset(chunkNr); err != nil {
			return nil, fmt.Errorf("get chunk offset: %w", err)
		}
	case chunkNr >= 1 && chunkNr <= len(stbl.Co64.ChunkOffset):
		offset = stbl.Co64.ChunkOffset[chunkNr-1]
	default:
		return nil, fmt.Errorf("chunk %d out of range", chunkNr)
	}
	for n := uint32(firstSampleInChunk); n < nr; n++ {
		offset += uint64(stbl.Stsz.GetSampleSize(int(n)))
	}

	if _, err := r.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to sample: %w", err)
	}
	data := make([]byte, stbl.Stsz.GetSampleSize(int(nr)))
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read sample: %w", err)
	}
	return data, nil
}

// splitLengthPrefixed splits ISO/IEC 14496-15 sample data into NAL units.
func splitLengthPrefixed(data []byte, lengthSize int) ([][]byte, error) {
	if lengthSize < 1 || lengthSize > 4 {
		return nil, fmt.Errorf("invalid NAL length size %d", lengthSize)
	}
	var nals [][]byte
	for off := 0; off < len(data); {
		if off+lengthSize > len(data) {
			return nals, fmt.Errorf("truncated NAL length at offset %d", off)
		}
		n := 0
		for _, b := range data[off : off+lengthSize] {
			n = n<<8 | int(b)
		}
		off += lengthSize
		if n > len(data)-off {
			return nals, fmt.Errorf("NAL of %d bytes overruns sample at offset %d", n, off)
		}
		if n > 0 {
			nals = append(nals, data[off:off+n])
		}
		off += n
	}
	return nals, nil
}

func init() {
	RegisterSource(SourceTypeMP4, func(r io.Reader) (Source, error) {
		rs, ok := r.(io.ReadSeeker)
		if !ok {
			return nil, fmt.Errorf("mp4 source needs an io.ReadSeeker: %w", ErrNotSupported)
		}
		return NewMP4Source(rs)
	})
}
