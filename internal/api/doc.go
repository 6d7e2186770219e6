// Package api 暴露预订、支付核验与钱包操作的 REST 接口。
// 所有业务语义都在 booking.Service 中实现，本包只负责路由、
// 解码与错误码到 HTTP 状态码的映射。
package api
