package model

// RepoStatus is whether a repository participates in planning.
type RepoStatus string

const (
	RepoActive   RepoStatus = "active"
	RepoInactive RepoStatus = "inactive"
)

// RepoMedia classifies a repository's backing media. Repositories are
// ordered primarily by mediaRank(Media), secondarily by Position within
// that class.
type RepoMedia string

const (
	MediaCD     RepoMedia = "cd"
	MediaUSB    RepoMedia = "usb"
	MediaRemote RepoMedia = "remote"
	MediaLocal  RepoMedia = "local"
)

// mediaRank gives the (cd -> usb -> remote -> local) ordering weight.
func mediaRank(m RepoMedia) int {
	switch m {
	case MediaCD:
		return 0
	case MediaUSB:
		return 1
	case MediaRemote:
		return 2
	case MediaLocal:
		return 3
	default:
		return 4
	}
}

// MediaRank exports mediaRank for use by reposdb's ordering comparator.
func MediaRank(m RepoMedia) int { return mediaRank(m) }

// Repository is one entry of the ordered repository list.
type Repository struct {
	Name     string
	URI      string
	Status   RepoStatus
	Media    RepoMedia
	Position int
}
