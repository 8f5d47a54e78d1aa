package manifest

// DownloadPolicy controls how files are fetched. The origin publishes one in the
// manifest and the local state may carry an override.
type DownloadPolicy struct {
	EnableMultiFileDownload   bool `json:"enable_multi_file_download"`
	MaxConcurrentFiles        int  `json:"max_concurrent_files"`
	EnableMultiThreadDownload bool `json:"enable_multi_thread_download"`
	ThreadsPerFile            int  `json:"threads_per_file"`
}

// EffectivePolicy is the reconciled policy used for one sync pass.
// All numeric fields are at least 1.
type EffectivePolicy struct {
	EnableMultiFileDownload   bool
	MaxConcurrentFiles        int
	EnableMultiThreadDownload bool
	ThreadsPerFile            int
}

// DefaultPolicy applies when the manifest does not publish a policy.
var DefaultPolicy = DownloadPolicy{
	EnableMultiFileDownload:   true,
	MaxConcurrentFiles:        10,
	EnableMultiThreadDownload: false,
	ThreadsPerFile:            4,
}

// ResolvePolicy merges the local override with the remote policy. The remote
// policy is an upper bound: the local side can disable features or lower limits
// but never raise them.
func ResolvePolicy(local, remote *DownloadPolicy) EffectivePolicy {
	r := DefaultPolicy
	if remote != nil {
		r = *remote
	}

	if local == nil {
		return EffectivePolicy{
			EnableMultiFileDownload:   r.EnableMultiFileDownload,
			MaxConcurrentFiles:        atLeastOne(r.MaxConcurrentFiles),
			EnableMultiThreadDownload: r.EnableMultiThreadDownload,
			ThreadsPerFile:            atLeastOne(r.ThreadsPerFile),
		}
	}

	return EffectivePolicy{
		EnableMultiFileDownload:   local.EnableMultiFileDownload && r.EnableMultiFileDownload,
		MaxConcurrentFiles:        atLeastOne(min(local.MaxConcurrentFiles, r.MaxConcurrentFiles)),
		EnableMultiThreadDownload: local.EnableMultiThreadDownload && r.EnableMultiThreadDownload,
		ThreadsPerFile:            atLeastOne(min(local.ThreadsPerFile, r.ThreadsPerFile)),
	}
}

// FileWorkers is the number of files downloaded at once.
func (p EffectivePolicy) FileWorkers() int {
	if !p.EnableMultiFileDownload {
		return 1
	}
	return atLeastOne(p.MaxConcurrentFiles)
}

// RangeWorkers is the number of byte ranges fetched at once for a single file.
func (p EffectivePolicy) RangeWorkers() int {
	if !p.EnableMultiThreadDownload {
		return 1
	}
	return atLeastOne(p.ThreadsPerFile)
}

// Connections is the upper bound of concurrent connections the policy can open.
func (p EffectivePolicy) Connections() int {
	return p.FileWorkers() * p.RangeWorkers()
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
