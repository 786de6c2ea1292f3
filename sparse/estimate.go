package sparse

// ProbablySparse estimates whether a faceting request over hitCount matching
// documents will stay within the sparse tracker.
//
// hitCount/maxDoc*refCount is the expected number of term references touched
// when references are distributed randomly; fraction*uniqueValues is the
// tracker capacity. Below cutOff of that capacity, sparse iteration is
// expected to win. Fields with fewer than minTags unique values are never
// counted sparsely: the full scan is cheap there and the tracker overhead is
// not worth it.
func ProbablySparse(hitCount, maxDoc int, refCount int64, uniqueValues int, fraction, cutOff float64, minTags int) bool {
	if hitCount == 0 || maxDoc == 0 || refCount == 0 {
		// The result is known to be empty either way.
		return true
	}
	expectedTouches := float64(hitCount) / float64(maxDoc) * float64(refCount)
	trackerCapacity := fraction * float64(uniqueValues)
	return uniqueValues >= minTags && expectedTouches < trackerCapacity*cutOff
}
