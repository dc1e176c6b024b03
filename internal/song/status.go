package song

// Status is the job status reported by the generation API. The set is
// closed; anything else coming off the wire is treated as unknown.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusTextSuccess         Status = "TEXT_SUCCESS"
	StatusFirstSuccess        Status = "FIRST_SUCCESS"
	StatusSuccess             Status = "SUCCESS"
	StatusCreateTaskFailed    Status = "CREATE_TASK_FAILED"
	StatusGenerateAudioFailed Status = "GENERATE_AUDIO_FAILED"
	StatusCallbackException   Status = "CALLBACK_EXCEPTION"
	StatusSensitiveWordError  Status = "SENSITIVE_WORD_ERROR"
)

// Known reports whether s is part of the closed enumeration.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusTextSuccess, StatusFirstSuccess, StatusSuccess,
		StatusCreateTaskFailed, StatusGenerateAudioFailed,
		StatusCallbackException, StatusSensitiveWordError:
		return true
	}
	return false
}

// Terminal reports whether no further progress is expected after s.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s.Failed()
}

// Failed reports whether s is a terminal failure variant.
func (s Status) Failed() bool {
	switch s {
	case StatusCreateTaskFailed, StatusGenerateAudioFailed,
		StatusCallbackException, StatusSensitiveWordError:
		return true
	}
	return false
}

// Rank orders statuses by progress. Writes guarded by Rank never replace
// a strictly more advanced status, so a stale poll observation arriving
// after the completion callback cannot regress a row. SUCCESS holds the
// top rank and always wins.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusTextSuccess:
		return 1
	case StatusFirstSuccess:
		return 2
	case StatusCreateTaskFailed, StatusGenerateAudioFailed,
		StatusCallbackException, StatusSensitiveWordError:
		return 3
	case StatusSuccess:
		return 4
	}
	return 0
}

// Percent maps a status to a user-facing completion percentage.
// Failure variants map to 100: the job is done, just not successfully.
// Unknown values map to 0.
func Percent(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusTextSuccess:
		return 33
	case StatusFirstSuccess:
		return 66
	case StatusSuccess:
		return 100
	case StatusCreateTaskFailed, StatusGenerateAudioFailed,
		StatusCallbackException, StatusSensitiveWordError:
		return 100
	}
	return 0
}
