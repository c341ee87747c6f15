package cache

// FileNames is the fixed, 11-element vector of file names the on-disk song
// tree ever treats as meaningful. Bit position i in a catalogue bitmap
// corresponds to FileNames[i].
var FileNames = []string{
	"0.aff", "1.aff", "2.aff", "3.aff", "4.aff",
	"base.ogg", "3.ogg",
	"video.mp4", "video_audio.ogg", "video_720.mp4", "video_1080.mp4",
}

func isKnownFileName(name string) bool {
	for _, n := range FileNames {
		if n == name {
			return true
		}
	}
	return false
}

// FileFilter decides whether a file name is legal to retain for a song
// during a sync. A catalogue snapshot satisfies this interface; when no
// catalogue has been loaded, allowKnownNames is used instead.
type FileFilter interface {
	IsAvailableFile(songID, fileName string) bool
}

// allowKnownNames allows any of the eleven well-known file names regardless
// of song_id, matching the "song not present in catalogue" fallback from
// is_available_file.
type allowKnownNames struct{}

func (allowKnownNames) IsAvailableFile(_, fileName string) bool {
	return isKnownFileName(fileName)
}
