package config

type WorkerKeyStruct struct {
	PersistAnswersQueue      string
	EvaluateSubmissionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue:      "persist_answers_queue",
	EvaluateSubmissionsQueue: "evaluate_submissions_queue",
}
