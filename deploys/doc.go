// Package deploys expõe a alocação de slots de deploy via HTTP (net/http).
//
// Visão geral (camadas):
//
//   - domain: tipos e contratos (Target, Branch, Store), sem net/http
//   - application: casos de uso (reservar, liberar, resetar) sem net/http
//   - infra: backends concretos (Redis, arquivo JSON), manifesto de secrets, throttle
//   - deploys (este pacote): rotas HTTP + extração de chave do cliente + tradução para status/JSON
//
// Rotas:
//
//	GET  /reserve_next_app/{branch}  reserva (ou reaproveita) um target para o branch
//	GET  /config                     estado atual do pool
//	GET  /reset_config/{password}    libera tudo (protegido por senha e throttle)
//	POST /pr_webhook                 libera o target do branch quando o PR fecha
//
// Variáveis de ambiente do binário (cmd/ci-deploys) controlam backend e pool,
// como STORE_BACKEND, DEPLOY_URLS, RESET_PASSWORD e REDIS_URL.
package deploys
