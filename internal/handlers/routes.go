package handlers

import "github.com/gin-gonic/gin"

// Set groups every handler mounted under /api.
type Set struct {
	Game      *GameHandler
	Wallet    *WalletHandler
	Jackpot   *JackpotHandler
	WebSocket *WebSocketHandler
}

// Register mounts the routes on an authenticated group.
func (s *Set) Register(api *gin.RouterGroup) {
	bet := api.Group("/bet")
	{
		bet.POST("/commit", s.Game.Commit)
		bet.POST("/reveal", s.Game.Reveal)
	}
	api.POST("/verify", s.Game.Verify)
	api.GET("/balance", s.Game.GetBalance)
	api.GET("/history", s.Game.GetHistory)

	api.POST("/deposit", s.Wallet.Deposit)
	api.POST("/withdraw", s.Wallet.Withdraw)
	api.POST("/transfer", s.Wallet.Transfer)
	api.POST("/referral", s.Wallet.Register)

	draw := api.Group("/lucky-draw")
	{
		draw.POST("/buy", s.Jackpot.BuyTickets)
		draw.GET("/current", s.Jackpot.Current)
	}

	if s.WebSocket != nil {
		api.GET("/ws", s.WebSocket.HandleWebSocket)
	}
}
