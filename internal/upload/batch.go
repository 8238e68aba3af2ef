package upload

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/SegaraRai/streamist-sub001/internal/apperror"
	"github.com/SegaraRai/streamist-sub001/internal/db"
)

const cueSheetExt = ".cue"

// BatchFile is one candidate file of a batch upload.
type BatchFile struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"fileSize"`
}

// BatchGroup is one audio source resolved from a batch. Audio and CueSheet are
// handles, that is indexes into the candidate slice. CueSheet is -1 when the
// audio file has no cue sheet.
type BatchGroup struct {
	Audio    int
	CueSheet int
}

// BatchResolution is the outcome of ResolveBatch. Orphans are handles of cue
// sheets that matched no audio file.
type BatchResolution struct {
	Groups  []BatchGroup
	Orphans []int
}

func fileStem(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

func isCueSheet(name string) bool {
	return strings.EqualFold(filepath.Ext(name), cueSheetExt)
}

// FileType classifies a candidate by its extension.
func FileType(name string) db.SourceFileType {
	if isCueSheet(name) {
		return db.SourceFileTypeCueSheet
	}
	return db.SourceFileTypeAudio
}

// ResolveBatch groups candidates into audio sources, pairing each cue sheet
// with the audio file that shares its stem. When several audio files share a
// stem the first one in input order gets the cue sheet.
func ResolveBatch(files []BatchFile) BatchResolution {
	audioByStem := make(map[string][]int)
	var audio, cues []int
	for h, f := range files {
		if isCueSheet(f.Filename) {
			cues = append(cues, h)
			continue
		}
		audio = append(audio, h)
		stem := fileStem(f.Filename)
		audioByStem[stem] = append(audioByStem[stem], h)
	}

	cueFor := make(map[int]int, len(cues))
	var res BatchResolution
	for _, c := range cues {
		paired := false
		for _, a := range audioByStem[fileStem(files[c].Filename)] {
			if _, taken := cueFor[a]; !taken {
				cueFor[a] = c
				paired = true
				break
			}
		}
		if !paired {
			res.Orphans = append(res.Orphans, c)
		}
	}

	for _, a := range audio {
		g := BatchGroup{Audio: a, CueSheet: -1}
		if c, ok := cueFor[a]; ok {
			g.CueSheet = c
		}
		res.Groups = append(res.Groups, g)
	}
	return res
}

type BatchRequest struct {
	Region string      `json:"region"`
	Files  []BatchFile `json:"files"`
}

type BatchRejection struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

type BatchResponse struct {
	Sources  []*CreateSourceResponse `json:"sources"`
	Rejected []BatchRejection        `json:"rejected"`
}

// CreateAudioSources creates one audio source per resolved group. A group
// rejected for a client error does not stop the others.
func (s *Service) CreateAudioSources(ctx context.Context, userID string, req BatchRequest) (*BatchResponse, error) {
	if len(req.Files) == 0 {
		return nil, apperror.WithMessage(apperror.ErrBadRequest, "no files given")
	}

	res := ResolveBatch(req.Files)
	resp := &BatchResponse{Sources: []*CreateSourceResponse{}, Rejected: []BatchRejection{}}

	for _, h := range res.Orphans {
		resp.Rejected = append(resp.Rejected, BatchRejection{
			Filename: req.Files[h].Filename,
			Code:     "unmatched_cue_sheet",
			Message:  "no audio file shares the name of this cue sheet",
		})
	}

	for _, g := range res.Groups {
		audio := req.Files[g.Audio]
		single := CreateAudioRequest{
			Region: req.Region,
			Audio:  FileRequest{Filename: audio.Filename, FileSize: audio.FileSize},
		}
		if g.CueSheet >= 0 {
			cue := req.Files[g.CueSheet]
			single.CueSheet = &FileRequest{Filename: cue.Filename, FileSize: cue.FileSize}
		}

		created, err := s.CreateAudioSource(ctx, userID, single)
		var appErr *apperror.Error
		switch {
		case err == nil:
			resp.Sources = append(resp.Sources, created)
		case errors.As(err, &appErr):
			resp.Rejected = append(resp.Rejected, BatchRejection{
				Filename: audio.Filename,
				Code:     appErr.Code,
				Message:  appErr.Message,
			})
		default:
			return nil, err
		}
	}
	return resp, nil
}
