package model

// VerifyResult — результат сверки текущего состояния файла с журналом.
type VerifyResult struct {
	FileID string
	// Consistent — воспроизведение журнала совпало с текущей строкой
	Consistent bool
	// LogEntries — количество записей журнала
	LogEntries int
	// Issues — описания расхождений
	Issues []string
}

// ReconcileReport — итог одного прохода сверки.
type ReconcileReport struct {
	FilesChecked int
	Inconsistent []VerifyResult
	// Errors — файлы, которые не удалось проверить (ошибки хранилища)
	Errors int
}
