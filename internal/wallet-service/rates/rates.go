package rates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Normalize canoniza códigos de moeda para a convenção interna (minúsculas).
// Código vazio cai no default da plataforma
func Normalize(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "" {
		return "sol"
	}
	return c
}

// símbolos curtos -> ids do provedor de cotações
var symbolIDs = map[string]string{
	"btc":   "bitcoin",
	"eth":   "ethereum",
	"sol":   "solana",
	"usdt":  "tether",
	"bnb":   "binancecoin",
	"xrp":   "ripple",
	"ada":   "cardano",
	"doge":  "dogecoin",
	"trx":   "tron",
	"ltc":   "litecoin",
	"dot":   "polkadot",
	"matic": "polygon",
	"avax":  "avalanche-2",
	"xlm":   "stellar",
	"bch":   "bitcoin-cash",
	"usd":   "tether", // fallback para USD
}

// RateSet é o resultado de uma consulta de cotações. Degraded=true indica que
// os valores não vieram do provedor (cache antigo ou taxa neutra 1) e não
// podem ser apresentados como cotação real
type RateSet struct {
	Rates    map[string]decimal.Decimal `json:"rates"`
	Degraded bool                       `json:"degraded"`
}

// RateCache guarda o último conjunto de cotações. A chave "fresh" expira com
// TTL; a chave "last" não expira e serve de fallback quando o provedor falha
type RateCache interface {
	GetFresh(ctx context.Context) (map[string]decimal.Decimal, bool)
	GetLast(ctx context.Context) (map[string]decimal.Decimal, bool)
	Set(ctx context.Context, rates map[string]decimal.Decimal) error
}

// Service consulta cotações USD no provedor externo com timeout limitado,
// cacheando o último resultado bem sucedido
type Service struct {
	BaseURL string
	HTTP    *http.Client
	Cache   RateCache
	Log     *zap.Logger
}

func NewService(baseURL string, cache RateCache, log *zap.Logger) *Service {
	return &Service{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 8 * time.Second},
		Cache:   cache,
		Log:     log,
	}
}

// UsdRates retorna a cotação USD de cada símbolo pedido.
// Ordem de resolução: cache fresco -> provedor -> último cache -> taxa
// neutra 1 com Degraded=true (nunca apresentada silenciosamente como real)
func (s *Service) UsdRates(ctx context.Context, symbols []string) (RateSet, error) {
	want := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		want = append(want, Normalize(sym))
	}

	cached, hasFresh := s.Cache.GetFresh(ctx)
	if hasFresh && covers(cached, want) {
		return pick(cached, want, false), nil
	}

	// cache frio ou sem alguma das moedas pedidas: consulta o provedor e
	// mescla com o que já estava cacheado
	fetched, err := s.fetch(ctx, want)
	if err == nil {
		for sym, r := range cached {
			if _, ok := fetched[sym]; !ok {
				fetched[sym] = r
			}
		}
		if cerr := s.Cache.Set(ctx, fetched); cerr != nil {
			s.Log.Warn("rate cache set", zap.Error(cerr))
		}
		return pick(fetched, want, false), nil
	}
	s.Log.Warn("rate provider failed, falling back", zap.Error(err))

	if hasFresh {
		return pick(cached, want, false), nil
	}
	if last, ok := s.Cache.GetLast(ctx); ok {
		return pick(last, want, true), nil
	}

	// último recurso: taxa neutra 1, sempre sinalizada como degradada
	neutral := make(map[string]decimal.Decimal, len(want))
	for _, sym := range want {
		neutral[sym] = decimal.NewFromInt(1)
	}
	return RateSet{Rates: neutral, Degraded: true}, nil
}

// covers informa se o conjunto cacheado tem cotação para todos os símbolos
// mapeáveis pedidos; símbolo fora do mapa nunca vem do provedor e não conta
func covers(all map[string]decimal.Decimal, want []string) bool {
	for _, sym := range want {
		if _, mapped := symbolIDs[sym]; !mapped {
			continue
		}
		if _, ok := all[sym]; !ok {
			return false
		}
	}
	return true
}

func pick(all map[string]decimal.Decimal, want []string, degraded bool) RateSet {
	out := make(map[string]decimal.Decimal, len(want))
	for _, sym := range want {
		if r, ok := all[sym]; ok {
			out[sym] = r
		} else {
			out[sym] = decimal.NewFromInt(1)
			degraded = true
		}
	}
	return RateSet{Rates: out, Degraded: degraded}
}

func (s *Service) fetch(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	ids := make([]string, 0, len(symbols))
	idToSymbol := make(map[string]string, len(symbols))
	for _, sym := range symbols {
		if id, ok := symbolIDs[sym]; ok {
			ids = append(ids, id)
			idToSymbol[id] = sym
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no mapped symbols")
	}

	u := s.BaseURL + "/simple/price?ids=" + url.QueryEscape(strings.Join(ids, ",")) + "&vs_currencies=usd"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("rate provider http " + resp.Status)
	}

	// {"solana":{"usd":123.45}, ...}
	var payload map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}

	rates := make(map[string]decimal.Decimal, len(payload))
	for id, vs := range payload {
		sym, ok := idToSymbol[id]
		if !ok {
			continue
		}
		usd, ok := vs["usd"]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(usd.String())
		if err != nil {
			continue
		}
		rates[sym] = d
	}
	if len(rates) == 0 {
		return nil, errors.New("empty rate response")
	}
	return rates, nil
}
