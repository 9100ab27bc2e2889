package errors

import (
	"go.uber.org/zap"
)

// LogError는 에러를 구조화된 로그로 기록합니다
func LogError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+2)
	allFields = append(allFields, zap.Error(err))

	// AppError에서 추가 정보 추출
	var appErr *AppError
	if As(err, &appErr) {
		allFields = append(allFields, zap.String("error_code", appErr.Code()))
	}

	allFields = append(allFields, fields...)

	// 클라이언트 측 문제는 Warn 레벨로 기록
	switch CodeOf(err) {
	case ErrNotFound, ErrConflict, ErrInvalidArgument, ErrRateLimited:
		logger.Warn(msg, allFields...)
	default:
		logger.Error(msg, allFields...)
	}
}
