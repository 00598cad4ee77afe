// Package api exposes the game over HTTP JSON. Handlers translate wire
// requests into service calls and service errors into the
// {error, code} envelope; no game rules live here.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/solkunai/soltrivia/internal/domain"
	"github.com/solkunai/soltrivia/internal/entry"
	"github.com/solkunai/soltrivia/internal/errors"
	"github.com/solkunai/soltrivia/internal/leaderboard"
	"github.com/solkunai/soltrivia/internal/round"
	"github.com/solkunai/soltrivia/internal/session"
)

type EntryGate interface {
	Enter(ctx context.Context, req entry.EnterRequest) (*entry.EnterResult, error)
	PurchaseLife(ctx context.Context, wallet, signature string) (*domain.Allowance, error)
}

type SessionService interface {
	Issue(ctx context.Context, sessionID string) (*session.IssueResult, error)
	Submit(ctx context.Context, req session.SubmitRequest) (*session.SubmitResult, error)
}

type RoundService interface {
	Finalize(ctx context.Context, roundID string, now time.Time) (*round.FinalizeResult, error)
	FinalizeDue(ctx context.Context, now time.Time) (*round.FinalizeResult, error)
}

type LeaderboardService interface {
	Standings(ctx context.Context, roundID string) (*leaderboard.Standings, error)
}

type ProfileSource interface {
	Profile(ctx context.Context, wallet string) (*domain.Profile, error)
}

// AnswerSource serves the per-session answer audit trail.
type AnswerSource interface {
	ListBySession(ctx context.Context, sessionID string) ([]domain.Answer, error)
}

type Config struct {
	Router      *gin.Engine
	Entry       EntryGate
	Session     SessionService
	Rounds      RoundService
	Leaderboard LeaderboardService
	Profiles    ProfileSource
	Answers     AnswerSource
	Notifier    *Notifier

	AllowedOrigins []string
}

type API struct {
	entry       EntryGate
	session     SessionService
	rounds      RoundService
	leaderboard LeaderboardService
	profiles    ProfileSource
	answers     AnswerSource
	notifier    *Notifier
}

func New(c Config) *API {
	a := &API{
		entry:       c.Entry,
		session:     c.Session,
		rounds:      c.Rounds,
		leaderboard: c.Leaderboard,
		profiles:    c.Profiles,
		answers:     c.Answers,
		notifier:    c.Notifier,
	}

	c.Router.Use(corsMiddleware(c.AllowedOrigins))

	c.Router.GET("/healthz", func(gc *gin.Context) { gc.Status(http.StatusOK) })

	g := c.Router.Group("/api")
	g.POST("/enter-round", a.enterRound)
	g.POST("/issue-question", a.issueQuestion)
	g.POST("/submit-answer", a.submitAnswer)
	g.POST("/finalize-round", a.finalizeRound)
	g.POST("/purchase-life", a.purchaseLife)
	g.GET("/rounds/:id/leaderboard", a.roundLeaderboard)
	g.GET("/profile/:wallet", a.walletProfile)
	g.GET("/sessions/:id/answers", a.sessionAnswers)

	return a
}

func (a *API) enterRound(gc *gin.Context) {
	var req struct {
		WalletAddress    string `json:"walletAddress"`
		EntryTxSignature string `json:"entryTxSignature"`
	}
	if err := gc.ShouldBindJSON(&req); err != nil {
		abortError(gc, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	res, err := a.entry.Enter(gc.Request.Context(), entry.EnterRequest{
		Wallet:      req.WalletAddress,
		TxSignature: req.EntryTxSignature,
	})
	if err != nil {
		abortError(gc, err)
		return
	}

	gc.JSON(http.StatusOK, gin.H{
		"sessionId":      res.Session.SessionID,
		"roundId":        res.Session.RoundID,
		"totalQuestions": len(res.Session.QuestionIDs),
		"resumed":        res.Resumed,
		"freeEntry":      res.FreeEntry,
		"lifeUsed":       res.LifeUsed,
		"remaining":      res.LivesRemaining,
	})
}

func (a *API) issueQuestion(gc *gin.Context) {
	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := gc.ShouldBindJSON(&req); err != nil {
		abortError(gc, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	res, err := a.session.Issue(gc.Request.Context(), req.SessionID)
	if err != nil {
		abortError(gc, err)
		return
	}

	gc.JSON(http.StatusOK, gin.H{
		"questionIndex":  res.QuestionIndex,
		"totalQuestions": res.TotalQuestions,
		"question": gin.H{
			"id":       res.Question.QuestionID,
			"category": res.Question.Category,
			"text":     res.Question.Text,
			"options":  res.Question.Options,
			"token":    res.Token,
		},
	})
}

func (a *API) submitAnswer(gc *gin.Context) {
	var req struct {
		SessionID     string `json:"sessionId"`
		Token         string `json:"token"`
		SelectedIndex *int   `json:"selectedIndex"`
	}
	if err := gc.ShouldBindJSON(&req); err != nil || req.SelectedIndex == nil {
		abortError(gc, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("sessionId, token and selectedIndex are required")))
		return
	}

	res, err := a.session.Submit(gc.Request.Context(), session.SubmitRequest{
		SessionID:     req.SessionID,
		Token:         req.Token,
		SelectedIndex: *req.SelectedIndex,
	})
	if err != nil {
		abortError(gc, err)
		return
	}

	gc.JSON(http.StatusOK, gin.H{
		"correct":        res.Correct,
		"correctIndex":   res.CorrectIndex,
		"pointsEarned":   res.Points,
		"timeMs":         res.TimeMs,
		"timedOut":       res.TimedOut,
		"isLastQuestion": res.IsLastQuestion,
		"totalScore":     res.TotalScore,
		"correctCount":   res.CorrectCount,
	})
}

func (a *API) finalizeRound(gc *gin.Context) {
	var req struct {
		RoundID string `json:"roundId"`
	}
	// Body is optional: no id means "finalize one due round".
	_ = gc.ShouldBindJSON(&req)

	ctx := gc.Request.Context()
	now := time.Now()

	var (
		res *round.FinalizeResult
		err error
	)
	if req.RoundID == "" {
		res, err = a.rounds.FinalizeDue(ctx, now)
	} else {
		res, err = a.rounds.Finalize(ctx, req.RoundID, now)
	}
	if err != nil {
		abortError(gc, err)
		return
	}

	if a.notifier != nil && res.Status != "no-op" {
		a.notifier.RoundFinalized(ctx, res)
	}

	payouts := make([]gin.H, 0, len(res.Payouts))
	for _, p := range res.Payouts {
		payouts = append(payouts, gin.H{
			"wallet": p.Wallet,
			"rank":   p.Rank,
			"amount": p.AmountLamports,
			"kind":   p.Kind,
			"status": p.Status,
		})
	}

	gc.JSON(http.StatusOK, gin.H{
		"roundId": res.RoundID,
		"status":  res.Status,
		"payouts": payouts,
	})
}

func (a *API) purchaseLife(gc *gin.Context) {
	var req struct {
		WalletAddress string `json:"walletAddress"`
		TxSignature   string `json:"txSignature"`
	}
	if err := gc.ShouldBindJSON(&req); err != nil {
		abortError(gc, errors.New(errors.CodeInvalidArgument, errors.WithCause(err)))
		return
	}

	a1, err := a.entry.PurchaseLife(gc.Request.Context(), req.WalletAddress, req.TxSignature)
	if err != nil {
		abortError(gc, err)
		return
	}

	gc.JSON(http.StatusOK, gin.H{
		"balance":           a1.Balance,
		"lifetimePurchased": a1.LifetimePurchased,
		"lifetimeUsed":      a1.LifetimeUsed,
	})
}

func (a *API) roundLeaderboard(gc *gin.Context) {
	st, err := a.leaderboard.Standings(gc.Request.Context(), gc.Param("id"))
	if err != nil {
		abortError(gc, err)
		return
	}

	entries := make([]gin.H, 0, len(st.Entries))
	for _, e := range st.Entries {
		entries = append(entries, gin.H{"wallet": e.Wallet, "score": e.Score})
	}

	gc.JSON(http.StatusOK, gin.H{
		"roundId": st.RoundID,
		"entries": entries,
	})
}

func (a *API) walletProfile(gc *gin.Context) {
	p, err := a.profiles.Profile(gc.Request.Context(), gc.Param("wallet"))
	if err != nil {
		abortError(gc, err)
		return
	}

	gc.JSON(http.StatusOK, gin.H{
		"wallet":         p.Wallet,
		"gamesPlayed":    p.GamesPlayed,
		"lifetimePoints": p.LifetimePoints,
		"wins":           p.Wins,
	})
}

func (a *API) sessionAnswers(gc *gin.Context) {
	answers, err := a.answers.ListBySession(gc.Request.Context(), gc.Param("id"))
	if err != nil {
		abortError(gc, err)
		return
	}

	out := make([]gin.H, 0, len(answers))
	for _, an := range answers {
		out = append(out, gin.H{
			"questionIndex": an.QuestionIndex,
			"questionId":    an.QuestionID,
			"selectedIndex": an.SelectedIndex,
			"correct":       an.Correct,
			"points":        an.Points,
			"timeMs":        an.ElapsedMs,
		})
	}

	gc.JSON(http.StatusOK, gin.H{"answers": out})
}

func abortError(gc *gin.Context, err error) {
	e := errors.Convert(err)
	gc.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{
		"error": e.Message,
		"code":  e.Reason,
	})
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return func(gc *gin.Context) {
		origin := gc.GetHeader("Origin")
		if _, ok := allowed[origin]; ok || len(allowed) == 0 {
			if origin == "" {
				origin = "*"
			}
			gc.Header("Access-Control-Allow-Origin", origin)
			gc.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			gc.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if gc.Request.Method == http.MethodOptions {
			gc.AbortWithStatus(http.StatusNoContent)
			return
		}

		gc.Next()
	}
}
