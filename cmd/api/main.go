package main

import (
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	"app/internal/handler"
	"app/internal/infra/db"
	"app/internal/infra/gateway"
	"app/internal/infra/notify"
	infraRepo "app/internal/infra/repository"
	"app/internal/server"
	"app/internal/usecase"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	//.envは無くても起動できるようにする（本番は環境変数のみ）
	_ = godotenv.Load("../.env")

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.GoEnv)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	//DB接続
	gormDB, err := db.Connect()
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	if err := gormDB.AutoMigrate(
		&model.User{},
		&model.Address{},
		&model.ProductVariant{},
		&model.Order{},
		&model.OrderItem{},
		&model.Payment{},
		&model.PaymentHistory{},
		&model.OtpChallenge{},
		&model.InventoryAdjustment{},
		&model.AuditLog{},
	); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}

	//Repository（GORM実装）生成
	txManager := infraRepo.NewTxManagerGorm(gormDB)
	paymentRepo := infraRepo.NewPaymentGormRepository(gormDB)
	addressRepo := infraRepo.NewAddressGormRepository(gormDB)
	auditRepo := infraRepo.NewAuditLogGormRepository(gormDB)

	//外部連携
	gw := gateway.NewClient(
		cfg.GatewayBaseURL,
		cfg.GatewayReturnURL,
		cfg.GatewaySecret,
		cfg.GatewayWebhookSecret,
		logger,
	)
	notifier := notify.NewLogNotifier(logger)

	shipping := usecase.NewStaticShippingService()
	coupons := usecase.NewStaticCouponService(map[string]int64{
		"WELCOME500": 500,
	})

	//Usecase生成
	orderUC := usecase.NewOrderUsecase(
		txManager, addressRepo, coupons, shipping, gw, uuid.NewString, logger,
	)
	paymentUC := usecase.NewPaymentUsecase(
		txManager, paymentRepo, addressRepo, gw, notifier, uuid.NewString,
		time.Duration(cfg.OtpTTLMinutes)*time.Minute, logger,
	)
	auditUC := usecase.NewAuditUsecase(auditRepo)

	//Handler生成
	handlers := server.Handlers{
		Order:        handler.NewOrderHandler(orderUC, paymentUC),
		Payment:      handler.NewPaymentHandler(paymentUC),
		AdminOrder:   handler.NewAdminOrderHandler(orderUC),
		AdminPayment: handler.NewAdminPaymentHandler(paymentUC, cfg.StalePendingMinutes),
		AdminAudit:   handler.NewAdminAuditHandler(auditUC),
	}

	//Server起動
	addr := cfg.Port
	if addr[0] != ':' {
		addr = ":" + addr
	}

	logger.Info("starting api server", zap.String("addr", addr))
	if err := server.Start(addr, cfg, handlers, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
