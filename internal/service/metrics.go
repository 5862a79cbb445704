package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики переходов и сверки.
var (
	// transitionsTotal — количество переходов по действию и результату.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_transitions_total",
		Help: "Общее количество переходов по действию и результату",
	}, []string{"action", "result"})

	// transitionDuration — длительность перехода (транзакция целиком).
	transitionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cm_transition_duration_seconds",
		Help:    "Длительность выполнения перехода в секундах",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"action"})

	// consistencyErrorsTotal — обнаруженные нарушения согласованности по источнику.
	consistencyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_consistency_errors_total",
		Help: "Общее количество нарушений согласованности состояния и журнала",
	}, []string{"source"})

	// reconcileRunsTotal — количество запусков сверки.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cm_reconcile_runs_total",
		Help: "Общее количество запусков сверки журнала",
	})

	// reconcileInconsistentFiles — файлы с расхождениями в последнем проходе.
	reconcileInconsistentFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cm_reconcile_inconsistent_files",
		Help: "Количество файлов с расхождениями в последнем проходе сверки",
	})

	// reconcileDurationSeconds — длительность прохода сверки.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cm_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})

	// directoryLookupsTotal — обращения к каталогу пользователей по результату.
	directoryLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_directory_lookups_total",
		Help: "Общее количество обращений к каталогу пользователей",
	}, []string{"result"})
)
