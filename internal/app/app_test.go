package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-tracker/internal/config"
	"price-tracker/internal/extractor"
	"price-tracker/internal/storage"
)

func newTestApp(t *testing.T) (*App, *storage.MemoryStore, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Forecast.ModelID = "linear_regression"
	cfg.Forecast.ModelVersion = "1.0"
	cfg.Forecast.HorizonDays = 7
	cfg.Forecast.Lookback = 60 * 24 * time.Hour
	cfg.Forecast.DemandWindow = 30 * 24 * time.Hour
	cfg.Forecast.HoldoutFraction = 0.2
	cfg.Forecast.DefaultConfidence = 0.5
	cfg.Export.MaxDataPoints = 5000

	store := storage.NewMemoryStore()
	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.repo = store
	a.Out = out
	return a, store, out
}

func TestOpenStoreRequiresDSN(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	if _, _, err := a.openStore(context.Background()); !errors.Is(err, storage.ErrNotConfigured) {
		t.Fatalf("未配置 DSN 应返回 ErrNotConfigured, 实际 %v", err)
	}
}

func TestAddProductWithThresholdAndInitialPrice(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newTestApp(t)
	threshold := decimal.NewFromInt(900)
	initial := decimal.NewFromInt(1000)

	product, err := a.AddProduct(ctx, AddProductOptions{
		OwnerID:      "alice",
		OwnerEmail:   "alice@example.com",
		Name:         "Headphones",
		URL:          "https://www.amazon.in/dp/B0TEST",
		Threshold:    &threshold,
		InitialPrice: &initial,
	})
	if err != nil {
		t.Fatalf("添加商品失败: %v", err)
	}
	if product.Currency != "INR" {
		t.Fatalf("默认币种应为 INR, 实际 %q", product.Currency)
	}

	alerts, _ := store.ListAlerts(ctx, product.ID)
	if len(alerts) != 1 || alerts[0].Kind != storage.AlertPriceDrop || !alerts[0].Threshold.Equal(threshold) {
		t.Fatalf("应自动创建 price_drop 告警: %+v", alerts)
	}

	series, _ := store.QueryRange(ctx, product.ID, time.Time{})
	if len(series) != 1 || series[0].Source != storage.SourceInitial {
		t.Fatalf("应记录 initial 观测: %+v", series)
	}
}

type capturingRepo struct {
	*storage.MemoryStore
	created []storage.Product
}

func (r *capturingRepo) CreateProduct(ctx context.Context, p storage.Product) (storage.Product, error) {
	r.created = append(r.created, p)
	return r.MemoryStore.CreateProduct(ctx, p)
}

func TestAddProductSendsDefaultCurrencyToRepository(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newTestApp(t)
	repo := &capturingRepo{MemoryStore: store}
	a.repo = repo

	if _, err := a.AddProduct(ctx, AddProductOptions{OwnerID: "carol", Name: "Kettle", URL: "https://www.amazon.in/dp/B0KETTLE"}); err != nil {
		t.Fatalf("添加商品失败: %v", err)
	}
	if _, err := a.AddProduct(ctx, AddProductOptions{OwnerID: "carol", Name: "Toaster", URL: "https://www.amazon.in/dp/B0TOAST", Currency: " usd "}); err != nil {
		t.Fatalf("添加商品失败: %v", err)
	}
	if len(repo.created) != 2 {
		t.Fatalf("应写入 2 个商品, 实际 %d", len(repo.created))
	}
	if repo.created[0].Currency != storage.DefaultCurrency {
		t.Fatalf("未指定币种时应写入 %s, 实际 %q", storage.DefaultCurrency, repo.created[0].Currency)
	}
	if repo.created[1].Currency != "USD" {
		t.Fatalf("币种应规范化为 USD, 实际 %q", repo.created[1].Currency)
	}
}

func TestAddProductRejectsSubCentThreshold(t *testing.T) {
	a, _, _ := newTestApp(t)
	threshold := decimal.RequireFromString("899.995")
	_, err := a.AddProduct(context.Background(), AddProductOptions{
		OwnerID:   "carol",
		Name:      "Kettle",
		URL:       "https://www.amazon.in/dp/B0KETTLE",
		Threshold: &threshold,
	})
	if err == nil {
		t.Fatalf("超过两位小数的阈值应报错")
	}
}

func TestAddProductRejectsUnsupportedSite(t *testing.T) {
	a, _, _ := newTestApp(t)
	_, err := a.AddProduct(context.Background(), AddProductOptions{
		OwnerID: "alice", Name: "Thing", URL: "https://shop.example.com/item/1",
	})
	if !errors.Is(err, extractor.ErrUnsupportedSite) {
		t.Fatalf("不支持的站点应报错, 实际 %v", err)
	}
}

func TestAddAlertValidation(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestApp(t)
	product, err := a.AddProduct(ctx, AddProductOptions{OwnerID: "bob", Name: "Phone", URL: "https://www.flipkart.com/p/itm1"})
	if err != nil {
		t.Fatalf("添加商品失败: %v", err)
	}

	cases := []struct {
		name string
		opts AddAlertOptions
		ok   bool
	}{
		{"price drop", AddAlertOptions{Kind: storage.AlertPriceDrop, Threshold: decimal.NewFromInt(500), Email: true}, true},
		{"no channel", AddAlertOptions{Kind: storage.AlertPriceDrop, Threshold: decimal.NewFromInt(500)}, false},
		{"non positive", AddAlertOptions{Kind: storage.AlertPriceIncrease, Threshold: decimal.Zero, Web: true}, false},
		{"demand above one", AddAlertOptions{Kind: storage.AlertDemandSpike, Threshold: decimal.NewFromInt(2), Web: true}, false},
		{"demand", AddAlertOptions{Kind: storage.AlertDemandSpike, Threshold: decimal.RequireFromString("0.7"), Web: true}, true},
		{"unknown kind", AddAlertOptions{Kind: "flash_sale", Threshold: decimal.NewFromInt(1), Web: true}, false},
		{"price cents", AddAlertOptions{Kind: storage.AlertPriceDrop, Threshold: decimal.RequireFromString("499.99"), Web: true}, true},
		{"demand three decimals", AddAlertOptions{Kind: storage.AlertDemandSpike, Threshold: decimal.RequireFromString("0.755"), Web: true}, false},
		{"price sub cent", AddAlertOptions{Kind: storage.AlertPriceIncrease, Threshold: decimal.RequireFromString("10.001"), Email: true}, false},
	}
	for _, tc := range cases {
		tc.opts.ProductID = product.ID.String()
		_, err := a.AddAlert(ctx, tc.opts)
		if tc.ok && err != nil {
			t.Fatalf("%s: 应成功, 实际 %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: 应报错", tc.name)
		}
	}
}

func TestToggleAndDeleteProduct(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newTestApp(t)
	product, _ := a.AddProduct(ctx, AddProductOptions{OwnerID: "carol", Name: "Kettle", URL: "https://www.amazon.com/dp/K1"})

	active, err := a.ToggleProduct(ctx, product.ID.String())
	if err != nil || active {
		t.Fatalf("切换后应为未激活: active=%v err=%v", active, err)
	}
	if err := a.DeleteProduct(ctx, product.ID.String()); err != nil {
		t.Fatalf("删除失败: %v", err)
	}
	if _, err := store.GetProduct(ctx, product.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("删除后应查不到商品")
	}
	if _, err := a.ToggleProduct(ctx, "not-a-uuid"); err == nil {
		t.Fatal("非法 id 应报错")
	}
}

func seedHistory(t *testing.T, a *App, store *storage.MemoryStore) storage.Product {
	t.Helper()
	ctx := context.Background()
	product, err := a.AddProduct(ctx, AddProductOptions{OwnerID: "dave", Name: "Laptop", URL: "https://www.amazon.in/dp/L1"})
	if err != nil {
		t.Fatalf("添加商品失败: %v", err)
	}
	start := time.Now().UTC().Add(-10 * 24 * time.Hour)
	for i := 0; i < 8; i++ {
		_, err := store.AppendObservation(ctx, storage.PriceObservation{
			ProductID:  product.ID,
			Price:      decimal.NewFromInt(int64(50000 + i*100)),
			Currency:   "INR",
			RecordedAt: start.Add(time.Duration(i) * 24 * time.Hour),
			Source:     storage.SourceScheduled,
			Valid:      true,
		})
		if err != nil {
			t.Fatalf("写入观测失败: %v", err)
		}
	}
	return product
}

func TestPredictAndExport(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newTestApp(t)
	product := seedHistory(t, a, store)

	if err := a.Predict(ctx, PredictOptions{ProductID: product.ID.String()}); err != nil {
		t.Fatalf("预测失败: %v", err)
	}

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "history.csv")
	pngPath := filepath.Join(dir, "history.png")
	if err := a.Export(ctx, ExportOptions{ProductID: product.ID.String(), CSVPath: csvPath, PNGPath: pngPath}); err != nil {
		t.Fatalf("导出失败: %v", err)
	}

	file, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("打开 CSV 失败: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("解析 CSV 失败: %v", err)
	}
	if len(records) != 1+8+7 {
		t.Fatalf("CSV 应含表头、8 条观测与 7 条预测, 实际 %d 行", len(records))
	}
	if records[1][1] != "observed" || records[len(records)-1][1] != "forecast" {
		t.Fatalf("CSV 行类型不正确: %v / %v", records[1], records[len(records)-1])
	}

	info, err := os.Stat(pngPath)
	if err != nil || info.Size() == 0 {
		t.Fatalf("PNG 应已生成: %v", err)
	}
}

func TestExportProductsJSON(t *testing.T) {
	ctx := context.Background()
	a, store, _ := newTestApp(t)
	seedHistory(t, a, store)

	path := filepath.Join(t.TempDir(), "products.json")
	if err := a.Export(ctx, ExportOptions{JSONPath: path}); err != nil {
		t.Fatalf("导出商品失败: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取 JSON 失败: %v", err)
	}
	if !strings.Contains(string(data), `"name": "Laptop"`) {
		t.Fatalf("JSON 应包含商品名: %s", data)
	}
}

func TestShowProductsTable(t *testing.T) {
	ctx := context.Background()
	a, store, out := newTestApp(t)
	seedHistory(t, a, store)

	if err := a.ShowProducts(ctx, ShowOptions{}); err != nil {
		t.Fatalf("展示商品失败: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Laptop") || !strings.Contains(text, "+1.40%") {
		t.Fatalf("表格应包含商品与 30 天涨幅: %s", text)
	}
}
