package storage

// Object key layout. Existing buckets depend on these exact shapes.

func SourceFileKey(userID, sourceFileID string) string {
	return "src/" + userID + "/" + sourceFileID
}

// TranscodedAudioKey expects extension with its leading dot, e.g. ".m4a".
func TranscodedAudioKey(userID, trackFileID, extension string) string {
	return "tra/" + userID + "/" + trackFileID + extension
}

func TranscodedImageKey(userID, imageFileID, extension string) string {
	return "tri/" + userID + "/" + imageFileID + extension
}

// TranscodeLogKey is where the transcoder writes its JSON log for a source file.
// requestType is "audio" or "image".
func TranscodeLogKey(userID, sourceFileID, requestType string) string {
	return "trx/" + userID + "/" + sourceFileID + "/" + requestType + ".json"
}
