package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"nirogai/backend/internal/auth"
	"nirogai/backend/internal/predictor"
	"nirogai/backend/internal/screening"
	"nirogai/backend/internal/store"
)

const (
	missingFieldsMessage = "Missing required fields"
	invalidInputMessage  = "invalid screening input"
	maxBodyBytes         = 64 << 10
)

// handlePredict runs one screening through validation, prediction and the
// audit store. Nothing is returned unless the row was written.
func (s *Server) handlePredict(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		s.renderError(c, http.StatusUnauthorized, errUnauthorized)
		return
	}
	log := logEntry(c).WithField("user_id", identity.ID)

	raw, err := decodeObject(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		log.WithError(err).Info("reject screening body")
		s.renderError(c, http.StatusBadRequest, errBadBody)
		return
	}

	input, err := screening.Decode(raw)
	if err != nil {
		var verr *screening.ValidationError
		if errors.As(err, &verr) {
			log.WithField("validation", verr.Outcome.String()).Info("screening rejected")
			message := missingFieldsMessage
			if len(verr.Outcome.Missing) == 0 {
				message = invalidInputMessage
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, ValidationResponse{
				Error:   message,
				Missing: nonNil(verr.Outcome.Missing),
				Invalid: verr.Outcome.Invalid(),
			})
			return
		}
		log.WithError(err).Error("decode screening input")
		s.renderError(c, http.StatusInternalServerError, errInternal)
		return
	}

	outcome, err := s.predictor.Predict(c.Request.Context(), input, s.policy)
	if err != nil {
		log.WithError(err).Error("prediction failed")
		s.renderError(c, http.StatusServiceUnavailable, errUnavailable)
		return
	}
	if outcome.Kind == predictor.Simulated {
		log.WithError(outcome.Cause).Warn("recording simulated screening")
	}

	record, err := newRecord(identity.ID, input, outcome)
	if err != nil {
		log.WithError(err).Error("build screening record")
		s.renderError(c, http.StatusInternalServerError, errInternal)
		return
	}
	if err := s.db.Append(c.Request.Context(), record); err != nil {
		log.WithError(err).Error("persist screening")
		s.renderError(c, http.StatusInternalServerError, errSaveFailed)
		return
	}

	log.WithFields(logrus.Fields{
		"screening_id": record.ID,
		"risk_level":   record.RiskLevel,
		"outcome":      outcome.Kind.String(),
	}).Info("screening recorded")

	c.JSON(http.StatusOK, PredictResponse{
		Success:     true,
		ScreeningID: record.ID,
		CreatedAt:   record.CreatedAt,
		Result:      outcome.Result,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		s.renderError(c, http.StatusUnauthorized, errUnauthorized)
		return
	}
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		limit = store.DefaultHistoryLimit
	}

	rows, err := s.db.History(c.Request.Context(), store.HistoryQuery{
		UserID:  identity.ID,
		Disease: screening.DiseaseDiabetes,
		Limit:   limit,
	})
	if err != nil {
		logEntry(c).WithError(err).WithField("user_id", identity.ID).Error("load history")
		s.renderError(c, http.StatusInternalServerError, errLoadFailed)
		return
	}

	dtos := make([]ScreeningDTO, 0, len(rows))
	for _, row := range rows {
		dtos = append(dtos, FromModel(row, false))
	}
	c.JSON(http.StatusOK, HistoryResponse{Success: true, Count: len(dtos), History: dtos})
}

func (s *Server) handleResult(c *gin.Context) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		s.renderError(c, http.StatusUnauthorized, errUnauthorized)
		return
	}
	id, err := parseUintParam(c.Param("id"))
	if err != nil {
		// Non-numeric ids can never match a row.
		s.renderError(c, http.StatusNotFound, errNotFound)
		return
	}

	row, err := s.db.GetByID(c.Request.Context(), identity.ID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.renderError(c, http.StatusNotFound, errNotFound)
		} else {
			logEntry(c).WithError(err).WithField("screening_id", id).Error("load screening")
			s.renderError(c, http.StatusInternalServerError, errLoadFailed)
		}
		return
	}
	c.JSON(http.StatusOK, ResultResponse{Success: true, Result: FromModel(*row, true)})
}

// decodeObject reads a JSON object keeping numbers as json.Number. An empty
// body decodes to an empty object so validation can list every field.
func decodeObject(body io.Reader) (map[string]any, error) {
	raw := map[string]any{}
	if body == nil {
		return raw, nil
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func newRecord(userID uint, input screening.Input, outcome predictor.Outcome) (*store.Screening, error) {
	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	result := outcome.Result
	return &store.Screening{
		UserID:          userID,
		Disease:         screening.DiseaseDiabetes,
		RiskProbability: result.RiskProbability,
		RiskLevel:       result.RiskLevel,
		KeyFactors:      datatypes.JSONSlice[string](nonNil(result.KeyFactors)),
		Recommendation:  result.Recommendation,
		ThresholdUsed:   result.ThresholdUsed,
		ThresholdType:   result.ThresholdType,
		ModelConfidence: datatypes.NewJSONType(result.ModelConfidence),
		Disclaimer:      result.Disclaimer,
		Simulated:       outcome.Kind == predictor.Simulated,
		InputData:       datatypes.JSON(inputJSON),
	}, nil
}
